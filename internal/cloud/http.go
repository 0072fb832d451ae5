package cloud

import (
	"context"
	"crypto/md5" //nolint:gosec // the account service expects an MD5 digest
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"belfry/internal/logging"
)

const (
	defaultCameraAPIHost = "business.smartcamera.api.io.mi.com"
	defaultDeviceAPIBase = "https://api.io.mi.com/app"
	accountLoginURL      = "https://account.xiaomi.com/pass/serviceLoginAuth2"

	userAgent = "belfry/0.3"
)

// Segments run a few MiB each; anything past this is not a segment.
// Lowered in tests.
var maxFetchBytes int64 = 64 << 20

// Options configures the HTTP-backed cloud client.
type Options struct {
	Username string
	Password string
	Region   string // account region, e.g. "cn"; non-cn regions prefix API hosts
	APIBase  string // overrides the camera API base URL when set
	Timeout  time.Duration
}

// HTTPClient talks to the vendor cloud over signed HTTP. Sessions are
// established lazily on first use and reused until the server rejects them.
type HTTPClient struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger

	mu           sync.Mutex
	serviceToken string
	userID       string
}

// NewHTTP constructs a cloud client. The logger may be nil.
func NewHTTP(opts Options, logger *slog.Logger) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		opts:   opts,
		http:   &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "cloud"),
	}
}

// Login authenticates with the account service and stores the session
// token used to sign subsequent requests.
func (c *HTTPClient) Login(ctx context.Context) error {
	if strings.TrimSpace(c.opts.Username) == "" || c.opts.Password == "" {
		return errors.New("cloud credentials not configured")
	}

	form := url.Values{}
	form.Set("user", c.opts.Username)
	form.Set("hash", hashPassword(c.opts.Password))
	form.Set("sid", "xiaomiio")
	form.Set("_json", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, accountLoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	var payload struct {
		Code         int         `json:"code"`
		Description  string      `json:"description"`
		ServiceToken string      `json:"serviceToken"`
		UserID       json.Number `json:"userId"`
	}
	if err := json.Unmarshal(stripJSONGuard(body), &payload); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if payload.Code != 0 || payload.ServiceToken == "" {
		return fmt.Errorf("login rejected: code %d %s", payload.Code, payload.Description)
	}

	c.mu.Lock()
	c.serviceToken = payload.ServiceToken
	c.userID = payload.UserID.String()
	c.mu.Unlock()

	c.logger.Info("cloud session established", logging.String("region", c.region()))
	return nil
}

// Devices returns the account's device list.
func (c *HTTPClient) Devices(ctx context.Context) ([]Device, error) {
	data := map[string]any{
		"getVirtualModel": false,
		"getHuamiDevices": 0,
	}
	body, err := c.apiPost(ctx, c.deviceAPIBase()+"/home/device_list", data)
	if err != nil {
		return nil, fmt.Errorf("device list: %w", err)
	}

	var payload struct {
		Code   int `json:"code"`
		Result struct {
			List []Device `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("device list: cloud returned code %d", payload.Code)
	}
	return payload.Result.List, nil
}

// EventPage fetches one page of doorbell events for a device.
func (c *HTTPClient) EventPage(ctx context.Context, device Device, query EventQuery) (EventPage, error) {
	params := url.Values{}
	params.Set("did", device.DID)
	params.Set("model", device.Model)
	params.Set("doorBell", "true")
	params.Set("eventType", "Default")
	params.Set("needMerge", "true")
	params.Set("sortType", "DESC")
	params.Set("region", strings.ToUpper(c.region()))
	params.Set("beginTime", fmt.Sprintf("%d", query.BeginTime))
	params.Set("endTime", fmt.Sprintf("%d", query.EndTime))
	params.Set("limit", fmt.Sprintf("%d", query.Limit))

	endpoint := c.cameraAPIBase() + "/common/app/get/eventlist?" + params.Encode()
	body, err := c.apiGet(ctx, endpoint)
	if err != nil {
		return EventPage{}, fmt.Errorf("event list: %w", err)
	}

	var payload struct {
		Code int `json:"code"`
		Data struct {
			IsContinue bool  `json:"isContinue"`
			NextTime   int64 `json:"nextTime"`
			Items      []struct {
				CreateTime int64  `json:"createTime"`
				FileID     string `json:"fileId"`
				EventType  string `json:"eventType"`
			} `json:"thirdPartPlayUnits"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return EventPage{}, fmt.Errorf("decode event list: %w", err)
	}
	if payload.Code != 0 {
		return EventPage{}, fmt.Errorf("event list: cloud returned code %d", payload.Code)
	}

	page := EventPage{
		IsContinue: payload.Data.IsContinue,
		NextTime:   payload.Data.NextTime,
		Items:      make([]Event, 0, len(payload.Data.Items)),
	}
	for _, item := range payload.Data.Items {
		page.Items = append(page.Items, Event{
			EventTime: item.CreateTime,
			FileID:    item.FileID,
			EventType: item.EventType,
		})
	}
	return page, nil
}

// PlaylistURL builds the signed playlist URL for one event.
func (c *HTTPClient) PlaylistURL(ctx context.Context, device Device, fileID string) (string, error) {
	token, _, err := c.session(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(map[string]any{
		"did":        device.DID,
		"model":      device.Model,
		"fileId":     fileID,
		"isAlarm":    true,
		"videoCodec": "H265",
	})
	if err != nil {
		return "", fmt.Errorf("encode playlist request: %w", err)
	}

	params := url.Values{}
	params.Set("data", string(data))
	params.Set("yetAnotherServiceToken", token)
	return c.cameraAPIBase() + "/common/app/m3u8?" + params.Encode(), nil
}

// Fetch performs a plain GET and returns the body bytes.
func (c *HTTPClient) Fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	// Read one byte past the limit so an oversized body fails loudly
	// instead of being truncated into undecryptable ciphertext.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(body)) > maxFetchBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", target, maxFetchBytes)
	}
	return body, nil
}

func (c *HTTPClient) session(ctx context.Context) (token, userID string, err error) {
	c.mu.Lock()
	token, userID = c.serviceToken, c.userID
	c.mu.Unlock()
	if token != "" {
		return token, userID, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	token, userID = c.serviceToken, c.userID
	c.mu.Unlock()
	return token, userID, nil
}

func (c *HTTPClient) apiGet(ctx context.Context, endpoint string) ([]byte, error) {
	return c.apiDo(ctx, http.MethodGet, endpoint, nil)
}

func (c *HTTPClient) apiPost(ctx context.Context, endpoint string, data map[string]any) ([]byte, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode request data: %w", err)
	}
	form := url.Values{}
	form.Set("data", string(encoded))
	return c.apiDo(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
}

func (c *HTTPClient) apiDo(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	token, userID, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.AddCookie(&http.Cookie{Name: "serviceToken", Value: token})
	req.AddCookie(&http.Cookie{Name: "yetAnotherServiceToken", Value: token})
	if userID != "" {
		req.AddCookie(&http.Cookie{Name: "userId", Value: userID})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("cloud rejected session: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloud returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

func (c *HTTPClient) region() string {
	region := strings.ToLower(strings.TrimSpace(c.opts.Region))
	if region == "" {
		return "cn"
	}
	return region
}

func (c *HTTPClient) cameraAPIBase() string {
	if base := strings.TrimSpace(c.opts.APIBase); base != "" {
		return strings.TrimSuffix(base, "/")
	}
	host := defaultCameraAPIHost
	if region := c.region(); region != "cn" {
		host = region + "." + host
	}
	return "https://" + host
}

func (c *HTTPClient) deviceAPIBase() string {
	base := defaultDeviceAPIBase
	if region := c.region(); region != "cn" {
		base = strings.Replace(base, "https://", "https://"+region+".", 1)
	}
	return base
}

func hashPassword(password string) string {
	sum := md5.Sum([]byte(password)) //nolint:gosec
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// stripJSONGuard removes the anti-hijacking prefix the account service
// prepends to JSON responses.
func stripJSONGuard(body []byte) []byte {
	const guard = "&&&START&&&"
	trimmed := strings.TrimSpace(string(body))
	trimmed = strings.TrimPrefix(trimmed, guard)
	return []byte(trimmed)
}

var _ Client = (*HTTPClient)(nil)
