// Package binance implements exchange.Client against Binance's USD-M
// futures REST API: the exchangeInfo/klines/fundingRate endpoints plus the
// /futures/data/* derivatives endpoints, all of which encode numeric
// fields as JSON strings and are parsed via strconv.ParseFloat. The
// *http.Client passed in is expected to already be wrapped by
// internal/httpx.Manager, so this package does no rate limiting, circuit
// breaking, or budget tracking of its own — it only issues requests and
// translates failures into this module's exchange error taxonomy.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/httpx"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// DefaultBaseURL is the production futures API host.
const DefaultBaseURL = "https://fapi.binance.com"

// Client implements exchange.Client over Binance's futures REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Config configures a Client. APIKey is optional: every endpoint this
// client calls is public market data, but Binance attaches request weight
// to the calling key when one is supplied, so operators running close to
// their daily budget may still want to set it.
type Config struct {
	BaseURL string
	APIKey  string
}

// NewClient wraps httpClient (normally obtained from
// httpx.Manager.GetClient, already carrying the rate-limit/circuit/budget
// middleware stack) as an exchange.Client.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, apiKey: cfg.APIKey}
}

var _ exchange.Client = (*Client)(nil)

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &exchange.TransientError{Err: fmt.Errorf("reading response body: %w", err)}
	}

	// A plain *http.Client (no httpx.Manager middleware in front of it, the
	// common case in tests and for callers that supply their own transport)
	// surfaces a 4xx/5xx as a normal response rather than a RoundTrip error,
	// so the status must be checked here too.
	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	}

	return body, nil
}

// classifyTransportError maps a RoundTrip failure (an *httpx.ProviderError
// when the request went through the middleware stack, a bare net error
// otherwise) onto the exchange package's retry-classifiable taxonomy.
func classifyTransportError(err error) error {
	var perr *httpx.ProviderError
	if errors.As(err, &perr) {
		switch perr.Type {
		case "rate_limit":
			return &exchange.RateLimitedError{}
		case "budget":
			return &exchange.TransientError{Err: perr}
		case "circuit":
			return &exchange.TransientError{Err: perr}
		case "http_error":
			return classifyStatus(perr.StatusCode, perr)
		default: // "transport"
			return &exchange.TransientError{Err: perr}
		}
	}
	return &exchange.TransientError{Err: err}
}

// classifyStatus maps an HTTP status code from a completed request onto
// the exchange taxonomy. Binance returns 401/403 for bad credentials, 400
// for malformed requests including unknown symbols, and 429/418 for rate
// limiting; retry.Classify depends on distinguishing those cases rather
// than surfacing a bare "HTTP %d" error.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return exchange.ErrUnauthorized
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return exchange.ErrInvalidSymbol
	case status == http.StatusTooManyRequests, status == 418:
		return &exchange.RateLimitedError{}
	case status >= 500:
		return &exchange.TransientError{Err: err}
	default:
		return fmt.Errorf("%w: %v", exchange.ErrOther, err)
	}
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		QuoteAsset string `json:"quoteAsset"`
		Contract   string `json:"contractType"`
	} `json:"symbols"`
}

// ListPerpetualSymbols implements exchange.Client, filtering exchangeInfo
// by status=="TRADING" plus a quote-asset match, restricted to PERPETUAL
// contracts since delivery futures are out of scope.
func (c *Client) ListPerpetualSymbols(ctx context.Context, onlyTrading bool, quoteAsset string) ([]string, error) {
	body, err := c.get(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: parsing exchangeInfo: %v", exchange.ErrOther, err)
	}

	var symbols []string
	for _, s := range info.Symbols {
		if s.Contract != "PERPETUAL" {
			continue
		}
		if quoteAsset != "" && !strings.EqualFold(s.QuoteAsset, quoteAsset) {
			continue
		}
		if onlyTrading && s.Status != "TRADING" {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

// klinesPath selects the futures/spot kline endpoint for market, since
// Binance hosts spot and futures klines under different base paths.
func klinesPath(market exchange.Market) string {
	switch market {
	case exchange.MarketSpot:
		return "/api/v3/klines"
	case exchange.MarketFuturesCoin:
		return "/dapi/v1/klines"
	default:
		return "/fapi/v1/klines"
	}
}

// GetHistoricalKlines implements exchange.Client. Binance returns each bar
// as a 12-element positional array; RawKline's field order documents that
// shape. Each bar is decoded as a []json.RawMessage, rows with fewer than
// 11 fields are skipped, and each field is parsed from either a JSON
// number or a quoted numeric string.
func (c *Client) GetHistoricalKlines(ctx context.Context, symbol string, freq timeutil.Freq, startMS, endMS int64, limit int, market exchange.Market) ([]exchange.RawKline, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", freq.ProviderString())
	q.Set("startTime", strconv.FormatInt(startMS, 10))
	q.Set("endTime", strconv.FormatInt(endMS, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, klinesPath(market), q)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing klines: %v", exchange.ErrOther, err)
	}

	bars := make([]exchange.RawKline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 11 {
			continue
		}
		bar, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing kline row: %v", exchange.ErrOther, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseKlineRow(row []json.RawMessage) (exchange.RawKline, error) {
	var bar exchange.RawKline
	var err error

	if bar.OpenTime, err = rawInt64(row[0]); err != nil {
		return bar, err
	}
	if bar.Open, err = rawFloat(row[1]); err != nil {
		return bar, err
	}
	if bar.High, err = rawFloat(row[2]); err != nil {
		return bar, err
	}
	if bar.Low, err = rawFloat(row[3]); err != nil {
		return bar, err
	}
	if bar.Close, err = rawFloat(row[4]); err != nil {
		return bar, err
	}
	if bar.Volume, err = rawFloat(row[5]); err != nil {
		return bar, err
	}
	if bar.CloseTime, err = rawInt64(row[6]); err != nil {
		return bar, err
	}
	if bar.QuoteVolume, err = rawFloat(row[7]); err != nil {
		return bar, err
	}
	if bar.TradesCount, err = rawInt64(row[8]); err != nil {
		return bar, err
	}
	if bar.TakerBuyVolume, err = rawFloat(row[9]); err != nil {
		return bar, err
	}
	if bar.TakerBuyQuoteVolume, err = rawFloat(row[10]); err != nil {
		return bar, err
	}
	return bar, nil
}

// rawFloat decodes a kline field that Binance may encode either as a JSON
// number or as a quoted string.
func rawFloat(raw json.RawMessage) (float64, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strconv.ParseFloat(asString, 64)
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return 0, err
	}
	return asNumber, nil
}

func rawInt64(raw json.RawMessage) (int64, error) {
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, err
	}
	return strconv.ParseInt(asString, 10, 64)
}

type fundingRateEntry struct {
	Symbol      string `json:"symbol"`
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
	MarkPrice   string `json:"markPrice"`
}

// GetFundingRate implements exchange.Client over the fundingRate endpoint.
func (c *Client) GetFundingRate(ctx context.Context, symbol string, startMS, endMS *int64, limit int) ([]exchange.RawFundingRate, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	setOptionalRange(q, startMS, endMS)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/fapi/v1/fundingRate", q)
	if err != nil {
		return nil, err
	}

	var entries []fundingRateEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: parsing fundingRate: %v", exchange.ErrOther, err)
	}

	out := make([]exchange.RawFundingRate, 0, len(entries))
	for _, e := range entries {
		rate, err := strconv.ParseFloat(e.FundingRate, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing fundingRate value: %v", exchange.ErrOther, err)
		}
		row := exchange.RawFundingRate{Symbol: e.Symbol, FundingTime: e.FundingTime, Rate: rate}
		if e.MarkPrice != "" {
			if mp, err := strconv.ParseFloat(e.MarkPrice, 64); err == nil {
				row.MarkPrice = &mp
			}
		}
		out = append(out, row)
	}
	return out, nil
}

type openInterestHistEntry struct {
	Symbol               string `json:"symbol"`
	SumOpenInterest      string `json:"sumOpenInterest"`
	SumOpenInterestValue string `json:"sumOpenInterestValue"`
	Timestamp            int64  `json:"timestamp"`
}

// GetOpenInterestHist implements exchange.Client against
// /futures/data/openInterestHist, the historical counterpart to the
// single-point /fapi/v1/openInterest endpoint.
func (c *Client) GetOpenInterestHist(ctx context.Context, symbol, period string, startMS, endMS *int64, limit int) ([]exchange.RawOpenInterest, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("period", period)
	setOptionalRange(q, startMS, endMS)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/futures/data/openInterestHist", q)
	if err != nil {
		return nil, err
	}

	var entries []openInterestHistEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: parsing openInterestHist: %v", exchange.ErrOther, err)
	}

	out := make([]exchange.RawOpenInterest, 0, len(entries))
	for _, e := range entries {
		oi, err := strconv.ParseFloat(e.SumOpenInterest, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing sumOpenInterest: %v", exchange.ErrOther, err)
		}
		row := exchange.RawOpenInterest{Symbol: e.Symbol, Time: e.Timestamp, Interval: period, OpenInterest: oi}
		if e.SumOpenInterestValue != "" {
			if v, err := strconv.ParseFloat(e.SumOpenInterestValue, 64); err == nil {
				row.OpenInterestValue = &v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// ratioEndpoints maps each exchange.RatioType onto the /futures/data/*
// endpoint and response field pair that carries it.
var ratioEndpoints = map[exchange.RatioType]struct {
	path       string
	longField  string
	shortField string
	ratioField string
}{
	exchange.RatioTopTraderAccount:  {"/futures/data/topLongShortAccountRatio", "longAccount", "shortAccount", "longShortRatio"},
	exchange.RatioTopTraderPosition: {"/futures/data/topLongShortPositionRatio", "longAccount", "shortAccount", "longShortRatio"},
	exchange.RatioGlobalAccount:     {"/futures/data/globalLongShortAccountRatio", "longAccount", "shortAccount", "longShortRatio"},
	exchange.RatioTakerVolume:       {"/futures/data/takerlongshortRatio", "buyVol", "sellVol", "buySellRatio"},
}

type longShortEntry struct {
	Symbol       string `json:"symbol"`
	LongAccount  string `json:"longAccount"`
	ShortAccount string `json:"shortAccount"`
	LongShortRat string `json:"longShortRatio"`
	BuyVol       string `json:"buyVol"`
	SellVol      string `json:"sellVol"`
	BuySellRatio string `json:"buySellRatio"`
	Timestamp    int64  `json:"timestamp"`
}

// GetLongShortRatio implements exchange.Client against the four
// /futures/data/*Ratio endpoints, using the same string-typed-number
// parsing convention as the other derivatives endpoints.
func (c *Client) GetLongShortRatio(ctx context.Context, symbol, period string, ratioType exchange.RatioType, startMS, endMS *int64, limit int) ([]exchange.RawLongShortRatio, error) {
	endpoint, ok := ratioEndpoints[ratioType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown ratio type %q", exchange.ErrOther, ratioType)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("period", period)
	setOptionalRange(q, startMS, endMS)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, endpoint.path, q)
	if err != nil {
		return nil, err
	}

	var entries []longShortEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", exchange.ErrOther, endpoint.path, err)
	}

	out := make([]exchange.RawLongShortRatio, 0, len(entries))
	for _, e := range entries {
		var longStr, shortStr, ratioStr string
		if ratioType == exchange.RatioTakerVolume {
			longStr, shortStr, ratioStr = e.BuyVol, e.SellVol, e.BuySellRatio
		} else {
			longStr, shortStr, ratioStr = e.LongAccount, e.ShortAccount, e.LongShortRat
		}

		long, err := strconv.ParseFloat(longStr, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", exchange.ErrOther, endpoint.longField, err)
		}
		short, err := strconv.ParseFloat(shortStr, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", exchange.ErrOther, endpoint.shortField, err)
		}
		ratio, err := strconv.ParseFloat(ratioStr, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", exchange.ErrOther, endpoint.ratioField, err)
		}

		out = append(out, exchange.RawLongShortRatio{
			Symbol: e.Symbol, Time: e.Timestamp, Period: period, RatioType: ratioType,
			Ratio: ratio, LongSide: long, ShortSide: short,
		})
	}
	return out, nil
}

func setOptionalRange(q url.Values, startMS, endMS *int64) {
	if startMS != nil {
		q.Set("startTime", strconv.FormatInt(*startMS, 10))
	}
	if endMS != nil {
		q.Set("endTime", strconv.FormatInt(*endMS, 10))
	}
}
