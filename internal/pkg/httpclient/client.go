// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Discoverer 按服务名解析出一个健康实例，nacos.Client 实现了它
type Discoverer interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.URL, e.StatusCode, bytes.TrimSpace(e.Body))
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Discoverer Discoverer
}

// NewClient 创建一个新的客户端实例，超时完全由每次请求的 context 控制
func NewClient(tracer trace.Tracer) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
	}
}

// CallService 通过服务发现找到实例后发送 JSON 请求
func (c *Client) CallService(ctx context.Context, serviceName, path string, body, out interface{}) error {
	if c.Discoverer == nil {
		return fmt.Errorf("no discoverer configured to resolve service %s", serviceName)
	}
	ip, port, err := c.Discoverer.DiscoverServiceInstance(serviceName)
	if err != nil {
		return err
	}
	return c.PostJSON(ctx, fmt.Sprintf("http://%s:%d%s", ip, port, path), body, out)
}

// PostJSON 发送 JSON 请求体并把响应解码到 out（可为 nil）。
// 非 2xx 响应返回 *StatusError，调用方可据此区分业务拒绝与网络故障。
func (c *Client) PostJSON(ctx context.Context, serviceURL string, body, out interface{}) error {
	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return err
	}
	ctx, span := c.Tracer.Start(ctx, "call-"+parsedURL.Hostname(), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsedURL.String(), bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	span.SetAttributes(
		attribute.String("http.url", parsedURL.String()),
		attribute.String("http.method", http.MethodPost),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &StatusError{URL: serviceURL, StatusCode: resp.StatusCode, Body: respBody}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// 业务拒绝（如 429）也带有结构化响应体，仍然解码给调用方
		if out != nil && len(respBody) > 0 {
			_ = json.Unmarshal(respBody, out)
		}
		return err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			span.RecordError(err)
			return fmt.Errorf("decode response from %s: %w", serviceURL, err)
		}
	}
	return nil
}
