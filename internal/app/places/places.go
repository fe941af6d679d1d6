/*
Package places finds the nearest emergency medical center around a pickup point using
the Kakao Local keyword search API.
*/
package places

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"ultramedic/internal/configs"
	"ultramedic/internal/pkg/logx"
)

const (
	searchPath = "/v2/local/search/keyword.json"

	// searchKeyword is "emergency medical center".
	searchKeyword = "응급의료센터"

	// excludedKeyword drops obstetrics clinics that also register as emergency centers.
	excludedKeyword = "산부인과"
)

var (
	// ErrNoHospital is returned when the search finds no eligible place.
	ErrNoHospital = errors.New("no hospital in range")

	// ErrProvider wraps transport failures and non-2xx answers.
	ErrProvider = errors.New("place search failed")
)

// Hospital is one eligible search hit.
type Hospital struct {
	Name     string
	Address  string
	Distance int
}

type document struct {
	PlaceName   string `json:"place_name"`
	AddressName string `json:"address_name"`
	Distance    string `json:"distance"`
}

type searchResponse struct {
	Documents []document `json:"documents"`
}

// Client queries the provider.
type Client struct {
	http   *resty.Client
	radius int
	logger zerolog.Logger
}

// NewClient builds a Client from configuration.
func NewClient(cfg configs.PlacesConfig) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(5*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "KakaoAK "+cfg.APIKey)

	return &Client{
		http:   http,
		radius: cfg.RadiusMeters,
		logger: logx.Component("Places"),
	}
}

// Nearest returns the closest eligible hospital around (x, y), where x is the
// longitude and y the latitude.
func (c *Client) Nearest(ctx context.Context, x, y string) (*Hospital, error) {
	var result searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"x":      x,
			"y":      y,
			"radius": strconv.Itoa(c.radius),
			"query":  searchKeyword,
			"sort":   "distance",
		}).
		SetResult(&result).
		Get(searchPath)
	if err != nil {
		c.logger.Error().Err(err).Msg("Place search request failed")
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if resp.IsError() {
		c.logger.Error().Int("status_code", resp.StatusCode()).Msg("Place search returned an error")
		return nil, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode())
	}

	var best *Hospital
	for _, doc := range result.Documents {
		if strings.Contains(doc.PlaceName, excludedKeyword) {
			continue
		}

		distance, err := strconv.Atoi(doc.Distance)
		if err != nil {
			distance = -1
		}

		h := &Hospital{Name: doc.PlaceName, Address: doc.AddressName, Distance: distance}
		if best == nil || (distance >= 0 && (best.Distance < 0 || distance < best.Distance)) {
			best = h
		}
	}

	if best == nil {
		c.logger.Info().Str("x", x).Str("y", y).Int("candidates", len(result.Documents)).Msg("No eligible hospital found")
		return nil, ErrNoHospital
	}
	return best, nil
}
