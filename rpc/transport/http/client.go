package http

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/hashicorp/go-retryablehttp"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *retryablehttp.Client
	counter    atomic.Uint32
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (transport *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(server)
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryCount
	client.RetryWaitMin = 10 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = time.Duration(config.TimeoutSecond) * time.Second
	client.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	transport.client = client
	transport.serverURLs = parsedURLs
	return nil
}

// Send posts the request to the endpoints in round-robin order. An endpoint
// that fails after its retries is skipped in favor of the next one.
func (transport *httpClientTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	if transport.client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	start := transport.counter.Add(1)
	var lastErr error
	for i := range transport.serverURLs {
		serverURL := transport.serverURLs[(int(start)+i)%len(transport.serverURLs)]
		resp, err := transport.send(serverURL.JoinPath(fmt.Sprint(shardId)).String(), req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (transport *httpClientTransport) send(requestURL string, req []byte) ([]byte, error) {
	httpRequest, err := retryablehttp.NewRequest(http.MethodPost, requestURL, req)
	if err != nil {
		return nil, err
	}
	httpResponse, err := transport.client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", httpResponse.Status)
	}
	return io.ReadAll(httpResponse.Body)
}

func (transport *httpClientTransport) Close() error {
	if transport.client != nil {
		transport.client.HTTPClient.CloseIdleConnections()
	}
	transport.client = nil
	transport.serverURLs = nil
	return nil
}
