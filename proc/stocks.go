package proc

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/leeineian/cadence/sys"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

// Stocks queries the Alpha Vantage REST API.
type Stocks struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   sys.RetryPolicy
}

func NewStocks(baseURL, apiKey string, client *http.Client) *Stocks {
	if client == nil {
		client = http.DefaultClient
	}
	return &Stocks{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
		retry:   sys.DefaultRetry.WithTimeout(sys.Timeouts.StockAPI),
	}
}

var defaultStocks = sync.OnceValue(func() *Stocks {
	cfg := sys.GlobalConfig
	if cfg == nil || cfg.StockAPIKey == "" {
		return nil
	}
	return NewStocks(cfg.StockURL, cfg.StockAPIKey, sys.HttpClient)
})

// GetStocks returns the configured client, or nil when no API key is set.
func GetStocks() *Stocks {
	return defaultStocks()
}

// FindTicker returns the best matching ticker symbol for a company name.
func (s *Stocks) FindTicker(ctx context.Context, company string) (string, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return "", Notice(sys.ErrStocksEmptyCompany)
	}
	sys.LogStocks(sys.MsgStocksLogRequest, "SYMBOL_SEARCH", company)

	body, err := s.query(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {company}})
	if err != nil {
		return "", timeoutNotice(err, sys.ErrStocksTickerTimeout)
	}
	if err := apiNotice(body, sys.ErrStocksAPICompany); err != nil {
		return "", err
	}

	var res struct {
		BestMatches []map[string]string `json:"bestMatches"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", err
	}
	if len(res.BestMatches) == 0 || res.BestMatches[0]["1. symbol"] == "" {
		return "", Notice(sys.ErrStocksNoTicker)
	}
	return res.BestMatches[0]["1. symbol"], nil
}

// NormalizeTicker trims and upper-cases a symbol and checks its shape.
func NormalizeTicker(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", Notice(sys.ErrStocksEmptySymbol)
	}
	if !tickerPattern.MatchString(symbol) {
		return "", Notice(sys.ErrStocksInvalidSymbol)
	}
	return symbol, nil
}

type dailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// DailyCSV renders the compact daily series for symbol as CSV, newest first.
func (s *Stocks) DailyCSV(ctx context.Context, symbol string) (string, []byte, error) {
	symbol, err := NormalizeTicker(symbol)
	if err != nil {
		return "", nil, err
	}
	sys.LogStocks(sys.MsgStocksLogRequest, "TIME_SERIES_DAILY", symbol)

	body, err := s.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {"compact"},
	})
	if err != nil {
		return "", nil, timeoutNotice(err, sys.ErrStocksDataTimeout)
	}
	if err := apiNotice(body, sys.ErrStocksAPITicker); err != nil {
		return "", nil, err
	}

	var res struct {
		Series map[string]dailyBar `json:"Time Series (Daily)"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", nil, err
	}
	if len(res.Series) == 0 {
		return "", nil, Notice(sys.ErrStocksNoData)
	}

	dates := make([]string, 0, len(res.Series))
	for d := range res.Series {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"date", "open", "high", "low", "close", "volume"})
	for _, d := range dates {
		b := res.Series[d]
		_ = w.Write([]string{d, b.Open, b.High, b.Low, b.Close, b.Volume})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", nil, err
	}
	return symbol, buf.Bytes(), nil
}

func (s *Stocks) query(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("apikey", s.apiKey)
	endpoint := s.baseURL + "?" + params.Encode()

	return sys.Retry(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", sys.ErrTransient, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return body, nil
	})
}

// apiNotice maps the informational keys Alpha Vantage returns with HTTP 200 to user-facing text.
func apiNotice(body []byte, errorText string) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return err
	}
	if _, ok := keys["Note"]; ok {
		return Notice(sys.MsgStocksRateLimited)
	}
	if _, ok := keys["Information"]; ok {
		return Notice(sys.MsgStocksRateLimited)
	}
	if _, ok := keys["Error Message"]; ok {
		return Notice(errorText)
	}
	return nil
}

func timeoutNotice(err error, text string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Notice(text)
	}
	return err
}
