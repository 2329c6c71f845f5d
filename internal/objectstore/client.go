// Package objectstore is a minimal S3-compatible client covering exactly
// what the publishing pipeline needs: signed single-shot PUTs, multipart
// uploads for large segments and object deletion. Requests are signed with
// AWS Signature Version 4 so the client works against S3, MinIO and other
// compatible stores without an SDK.
package objectstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 5 * time.Minute

	// multipartThreshold is the file size at which PutFile switches from a
	// single PUT to a multipart upload.
	multipartThreshold = 100 << 20
	// partSize is the size of each multipart part.
	partSize = 100 << 20
	// readChunkSize bounds individual reads while buffering a part.
	readChunkSize = 64 << 20
)

// Config holds the connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	PublicEndpoint string
	RequestTimeout time.Duration
}

func (cfg Config) requestTimeout() time.Duration {
	if cfg.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return cfg.RequestTimeout
}

// Client talks to one bucket on one endpoint.
type Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
}

// New validates the configuration and returns a client. Bucket and endpoint
// are required.
func New(cfg Config) (*Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if bucket == "" || endpoint == "" {
		return nil, fmt.Errorf("object storage requires both a bucket and an endpoint")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = parsed.Host
	}
	base := &url.URL{Scheme: scheme, Host: endpoint}
	if base.Host == "" {
		return nil, fmt.Errorf("object storage endpoint %q has no host", cfg.Endpoint)
	}
	sanitized := cfg
	sanitized.Bucket = bucket
	return &Client{
		cfg:        sanitized,
		endpoint:   base,
		httpClient: &http.Client{Timeout: sanitized.requestTimeout()},
	}, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string { return c.cfg.Bucket }

// PublicURL returns the externally reachable URL for a key, or an empty
// string when no public endpoint is configured.
func (c *Client) PublicURL(key string) string {
	base := strings.TrimSpace(c.cfg.PublicEndpoint)
	if base == "" {
		return ""
	}
	trimmedBase := strings.TrimRight(base, "/")
	trimmedKey := strings.TrimLeft(key, "/")
	if trimmedKey == "" {
		return trimmedBase
	}
	return trimmedBase + "/" + trimmedKey
}

// PutObject uploads an in-memory payload under key.
func (c *Client) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	target := c.objectURL(key, "")
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if err := c.signRequest(request, hashSHA256Hex(body)); err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("upload object %s: unexpected status %d", key, response.StatusCode)
	}
	return nil
}

// PutFile uploads a file from disk. Files at or above the multipart
// threshold go through a multipart upload so no single request has to buffer
// the whole payload.
func (c *Client) PutFile(ctx context.Context, key, contentType, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if info.Size() < multipartThreshold {
		body, err := io.ReadAll(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return c.PutObject(ctx, key, contentType, body)
	}
	return c.putMultipart(ctx, key, contentType, file)
}

// DeleteObject removes a key. Missing keys are not an error.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	target := c.objectURL(key, "")
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	if err := c.signRequest(request, emptyPayloadHash); err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if (response.StatusCode >= 200 && response.StatusCode < 300) || response.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("delete object %s: unexpected status %d", key, response.StatusCode)
}

type listBucketResult struct {
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
	Contents              []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

// ListObjects returns every key under prefix, following continuation tokens
// until the listing is exhausted.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		query := "list-type=2&prefix=" + url.QueryEscape(strings.TrimLeft(prefix, "/"))
		if token != "" {
			query += "&continuation-token=" + url.QueryEscape(token)
		}
		target := c.objectURL("", query)
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("create list request: %w", err)
		}
		if err := c.signRequest(request, emptyPayloadHash); err != nil {
			return nil, err
		}
		response, err := c.httpClient.Do(request)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		body, readErr := io.ReadAll(response.Body)
		_ = response.Body.Close()
		if response.StatusCode < 200 || response.StatusCode >= 300 {
			return nil, fmt.Errorf("list objects %s: unexpected status %d", prefix, response.StatusCode)
		}
		if readErr != nil {
			return nil, fmt.Errorf("read listing for %s: %w", prefix, readErr)
		}
		var result listBucketResult
		if err := xml.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decode listing for %s: %w", prefix, err)
		}
		for _, entry := range result.Contents {
			keys = append(keys, entry.Key)
		}
		if !result.IsTruncated || result.NextContinuationToken == "" {
			return keys, nil
		}
		token = result.NextContinuationToken
	}
}

// DeletePrefix removes every object under prefix. All deletions are
// attempted; the first failure is returned after the sweep.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := c.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	var firstErr error
	for _, key := range keys {
		if err := c.DeleteObject(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type completedPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUpload struct {
	XMLName xml.Name        `xml:"CompleteMultipartUpload"`
	Parts   []completedPart `xml:"Part"`
}

type initiateMultipartResult struct {
	UploadID string `xml:"UploadId"`
}

// putMultipart streams the reader through a multipart upload. On any part
// failure the upload is aborted so the store does not accumulate orphaned
// parts.
func (c *Client) putMultipart(ctx context.Context, key, contentType string, reader io.Reader) error {
	uploadID, err := c.initiateMultipart(ctx, key, contentType)
	if err != nil {
		return err
	}

	var parts []completedPart
	buffer := make([]byte, 0, partSize)
	chunk := make([]byte, readChunkSize)
	partNumber := 1
	for {
		buffer = buffer[:0]
		for len(buffer) < partSize {
			want := partSize - len(buffer)
			if want > readChunkSize {
				want = readChunkSize
			}
			n, readErr := io.ReadFull(reader, chunk[:want])
			buffer = append(buffer, chunk[:n]...)
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				goto flush
			}
			if readErr != nil {
				c.abortMultipart(ctx, key, uploadID)
				return fmt.Errorf("read part %d: %w", partNumber, readErr)
			}
		}
	flush:
		if len(buffer) == 0 && partNumber > 1 {
			break
		}
		etag, err := c.uploadPart(ctx, key, uploadID, partNumber, buffer)
		if err != nil {
			c.abortMultipart(ctx, key, uploadID)
			return err
		}
		parts = append(parts, completedPart{PartNumber: partNumber, ETag: etag})
		if len(buffer) < partSize {
			break
		}
		partNumber++
	}
	if err := c.completeMultipart(ctx, key, uploadID, parts); err != nil {
		c.abortMultipart(ctx, key, uploadID)
		return err
	}
	return nil
}

func (c *Client) initiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	target := c.objectURL(key, "uploads=")
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create initiate request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if err := c.signRequest(request, emptyPayloadHash); err != nil {
		return "", err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("initiate multipart for %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("initiate multipart for %s: unexpected status %d", key, response.StatusCode)
	}
	var result initiateMultipartResult
	if err := xml.NewDecoder(response.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode initiate response: %w", err)
	}
	if result.UploadID == "" {
		return "", fmt.Errorf("initiate multipart for %s: empty upload id", key)
	}
	return result.UploadID, nil
}

func (c *Client) uploadPart(ctx context.Context, key, uploadID string, partNumber int, body []byte) (string, error) {
	query := "partNumber=" + strconv.Itoa(partNumber) + "&uploadId=" + url.QueryEscape(uploadID)
	target := c.objectURL(key, query)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create part request: %w", err)
	}
	if err := c.signRequest(request, hashSHA256Hex(body)); err != nil {
		return "", err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("upload part %d of %s: %w", partNumber, key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("upload part %d of %s: unexpected status %d", partNumber, key, response.StatusCode)
	}
	etag := response.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("upload part %d of %s: missing etag", partNumber, key)
	}
	return etag, nil
}

func (c *Client) completeMultipart(ctx context.Context, key, uploadID string, parts []completedPart) error {
	payload, err := xml.Marshal(completeMultipartUpload{Parts: parts})
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	target := c.objectURL(key, "uploadId="+url.QueryEscape(uploadID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create completion request: %w", err)
	}
	request.Header.Set("Content-Type", "application/xml")
	if err := c.signRequest(request, hashSHA256Hex(payload)); err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("complete multipart for %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("complete multipart for %s: unexpected status %d", key, response.StatusCode)
	}
	return nil
}

func (c *Client) abortMultipart(ctx context.Context, key, uploadID string) {
	target := c.objectURL(key, "uploadId="+url.QueryEscape(uploadID))
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return
	}
	if err := c.signRequest(request, emptyPayloadHash); err != nil {
		return
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return
	}
	_ = response.Body.Close()
}

func (c *Client) objectURL(key, rawQuery string) *url.URL {
	basePath := strings.TrimRight(c.endpoint.Path, "/")
	path := "/" + strings.TrimLeft(c.cfg.Bucket, "/")
	trimmedKey := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmedKey != "" {
		path += "/" + trimmedKey
	}
	if basePath != "" {
		path = basePath + path
	}
	u := *c.endpoint
	u.Path = path
	u.RawQuery = rawQuery
	return &u
}

func (c *Client) signRequest(req *http.Request, payloadHash string) error {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	accessKey := strings.TrimSpace(c.cfg.AccessKey)
	secretKey := strings.TrimSpace(c.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return nil
	}
	region := strings.TrimSpace(c.cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(secretKey, dateStamp, region)
	signature := hmacSHA256Hex(signingKey, stringToSign)
	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKey,
		scope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", authorization)
	return nil
}

func canonicalizeHeaders(req *http.Request) (string, string) {
	headerMap := make(map[string][]string)
	for key, values := range req.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			cleaned = append(cleaned, strings.TrimSpace(v))
		}
		headerMap[lower] = cleaned
	}
	if _, ok := headerMap["host"]; !ok && req.Host != "" {
		headerMap["host"] = []string{req.Host}
	}
	keys := make([]string, 0, len(headerMap))
	for key := range headerMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	var signed []string
	for _, key := range keys {
		values := headerMap[key]
		builder.WriteString(key)
		builder.WriteByte(':')
		builder.WriteString(strings.Join(values, ","))
		builder.WriteByte('\n')
		signed = append(signed, key)
	}
	return builder.String(), strings.Join(signed, ";")
}

func canonicalURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte('&')
		}
		sort.Strings(values[key])
		for vIdx, value := range values[key] {
			if vIdx > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(url.QueryEscape(key))
			builder.WriteByte('=')
			builder.WriteString(url.QueryEscape(value))
		}
	}
	return builder.String()
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key []byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var emptyPayloadHash = hashSHA256Hex(nil)

func hashSHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
