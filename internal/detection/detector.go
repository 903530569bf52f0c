// Package detection turns image bytes into labels and decides which of those
// labels describe a cat.
package detection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/dharsanguruparan/catscan/internal/model"
)

// Detector returns an ordered list of labels for an image.
type Detector interface {
	DetectLabels(ctx context.Context, image []byte) ([]model.Label, error)
}

// VisionConfig holds the Cloud Vision client settings.
type VisionConfig struct {
	CredentialsFile string
	Endpoint        string
	MaxLabels       int
	MinConfidence   float64
	// HTTPClient overrides transport and authentication; tests point it at a mock.
	HTTPClient *http.Client
}

// VisionDetector implements Detector on the Cloud Vision images:annotate API.
type VisionDetector struct {
	svc           *vision.Service
	maxLabels     int64
	minConfidence float64
}

// NewVisionDetector creates the Vision client.
func NewVisionDetector(ctx context.Context, cfg VisionConfig) (*VisionDetector, error) {
	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	maxLabels := cfg.MaxLabels
	if maxLabels <= 0 {
		maxLabels = 50
	}
	return &VisionDetector{
		svc:           svc,
		maxLabels:     int64(maxLabels),
		minConfidence: cfg.MinConfidence,
	}, nil
}

// DetectLabels sends the image inline and converts scores to percentages.
// Labels under the configured minimum confidence are dropped. Instances counts
// localized objects carrying the same name as the label.
func (d *VisionDetector) DetectLabels(ctx context.Context, image []byte) ([]model.Label, error) {
	if len(image) == 0 {
		return nil, errors.New("detect labels: empty image")
	}
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{
				{Type: "LABEL_DETECTION", MaxResults: d.maxLabels},
				{Type: "OBJECT_LOCALIZATION", MaxResults: d.maxLabels},
			},
		}},
	}
	resp, err := d.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("annotate image: %w", err)
	}
	if len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, errors.New("annotate image: empty response")
	}
	res := resp.Responses[0]
	if res.Error != nil && res.Error.Code != 0 {
		return nil, fmt.Errorf("annotate image: %s (code %d)", res.Error.Message, res.Error.Code)
	}

	instances := make(map[string]int, len(res.LocalizedObjectAnnotations))
	for _, obj := range res.LocalizedObjectAnnotations {
		instances[strings.ToLower(obj.Name)]++
	}
	labels := make([]model.Label, 0, len(res.LabelAnnotations))
	for _, ann := range res.LabelAnnotations {
		confidence := math.Round(ann.Score*100*100) / 100
		if confidence < d.minConfidence {
			continue
		}
		labels = append(labels, model.Label{
			Name:       ann.Description,
			Confidence: confidence,
			Instances:  instances[strings.ToLower(ann.Description)],
		})
	}
	return labels, nil
}
