// Package paddle implements the CJK-specialized OCR engine as a client for a
// PaddleOCR serving instance bound to the loopback interface.
package paddle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/zombor/receipt-lens/internal/ocr"
)

// DefaultURL is where PaddleOCR hub serving listens by default
const DefaultURL = "http://127.0.0.1:8868"

// Client implements ocr.Backend against PaddleOCR serving
type Client struct {
	baseURL string
	client  *http.Client

	// the serving process handles one prediction at a time
	mu sync.Mutex
}

// New creates a new PaddleOCR client
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type predictRequest struct {
	Images []string `json:"images"`
}

type textRegion struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"` // 0-1
	Region     [][]float64 `json:"text_region"`
}

type systemResponse struct {
	Msg     string         `json:"msg"`
	Status  string         `json:"status"`
	Results [][]textRegion `json:"results"`
}

type classification struct {
	Angle      float64 `json:"angle"`
	Confidence float64 `json:"confidence"`
}

type clsResponse struct {
	Msg     string           `json:"msg"`
	Status  string           `json:"status"`
	Results []classification `json:"results"`
}

// Name returns the engine name
func (c *Client) Name() string { return "paddle" }

// Ping checks that the serving instance is reachable and healthy. The root
// path is not a model endpoint, so any status below 500 counts as up.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling paddle server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("paddle server unhealthy (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Recognize runs detection and recognition. The page-segmentation mode is
// ignored; PaddleOCR does its own layout detection.
func (c *Client) Recognize(ctx context.Context, img image.Image, _ ocr.Config) (*ocr.Result, error) {
	var resp systemResponse
	if err := c.predict(ctx, "/predict/ocr_system", img, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "000" {
		return nil, fmt.Errorf("paddle server error (status %s): %s", resp.Status, resp.Msg)
	}

	var regions []textRegion
	if len(resp.Results) > 0 {
		regions = resp.Results[0]
	}

	res := &ocr.Result{Lines: make([]ocr.Line, 0, len(regions))}
	texts := make([]string, 0, len(regions))
	var sum float64
	for _, r := range regions {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		conf := r.Confidence * 100
		sum += conf
		texts = append(texts, text)
		res.Lines = append(res.Lines, ocr.Line{
			Text:       text,
			Confidence: conf,
			Box:        regionBox(r.Region),
		})
	}
	res.Text = strings.Join(texts, "\n")
	if len(res.Lines) > 0 {
		res.Confidence = sum / float64(len(res.Lines))
	}
	return res, nil
}

// DetectOrientation asks the direction classifier for the page angle.
// Returns the angle in degrees and a 0-1 confidence.
func (c *Client) DetectOrientation(ctx context.Context, img image.Image) (float64, float64, error) {
	var resp clsResponse
	if err := c.predict(ctx, "/predict/ocr_cls", img, &resp); err != nil {
		return 0, 0, err
	}
	if len(resp.Results) == 0 {
		return 0, 0, fmt.Errorf("no orientation in paddle response")
	}
	return resp.Results[0].Angle, resp.Results[0].Confidence, nil
}

// Close is a no-op for the HTTP client
func (c *Client) Close() error {
	return nil
}

func (c *Client) predict(ctx context.Context, path string, img image.Image, out any) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}

	jsonData, err := json.Marshal(predictRequest{
		Images: []string{base64.StdEncoding.EncodeToString(buf.Bytes())},
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling paddle server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("paddle server error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// regionBox turns a quadrilateral into its axis-aligned bounds
func regionBox(points [][]float64) ocr.BoundingBox {
	if len(points) == 0 {
		return ocr.BoundingBox{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		if len(p) < 2 {
			continue
		}
		minX = math.Min(minX, p[0])
		minY = math.Min(minY, p[1])
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	if math.IsInf(minX, 1) {
		return ocr.BoundingBox{}
	}
	return ocr.BoundingBox{
		X0: int(minX),
		Y0: int(minY),
		X1: int(math.Ceil(maxX)),
		Y1: int(math.Ceil(maxY)),
	}
}
