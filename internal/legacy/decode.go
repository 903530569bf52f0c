// Package legacy reads scan records exported from earlier deployments, whose
// field names drifted between camelCase and snake_case and between the
// has_cat/confidence and cats_found/highest_confidence result layouts.
package legacy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/catscan/internal/detection"
	"github.com/dharsanguruparan/catscan/internal/model"
)

// Item is one exported record.
type Item map[string]interface{}

// first returns the value of the first present, non-null key.
func (it Item) first(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := it[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (it Item) str(keys ...string) string {
	v, ok := it.first(keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// Decode maps an exported item to the canonical record. Canonical names win
// over legacy ones when both are present.
func Decode(it Item) (*model.Scan, error) {
	rawID := it.str("scan_id", "scanId")
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan id %q: %w", rawID, err)
	}
	status, err := model.ParseStatus(it.str("status"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rawID, err)
	}

	imageRef := it.str("image_ref", "s3_key", "s3Key")
	contentType := model.NormalizeContentType(it.str("content_type", "contentType"))
	if contentType == "" {
		contentType = contentTypeFromKey(imageRef)
	}

	created, err := parseTime(it.str("created_at", "createdAt"))
	if err != nil {
		return nil, fmt.Errorf("scan %s created_at: %w", rawID, err)
	}
	updated, err := parseTime(it.str("updated_at", "updatedAt", "timestamp"))
	if err != nil {
		return nil, fmt.Errorf("scan %s updated_at: %w", rawID, err)
	}
	if updated.IsZero() {
		updated = created
	}

	scan := model.NewScan(id.String(), imageRef, contentType, it.str("user_id", "userId"), created)
	scan.Status = status
	scan.UpdatedAt = updated
	scan.Filename = it.str("filename")

	switch status {
	case model.StatusCompleted:
		result, err := decodeResult(it)
		if err != nil {
			return nil, fmt.Errorf("scan %s result: %w", rawID, err)
		}
		scan.Result = result
		completed, err := parseTime(it.str("completed_at", "completedAt"))
		if err != nil {
			return nil, fmt.Errorf("scan %s completed_at: %w", rawID, err)
		}
		if completed.IsZero() {
			completed = updated
		}
		scan.CompletedAt = &completed
	case model.StatusFailed:
		scan.ErrorMessage = it.str("error_message", "errorMessage", "error")
	case model.StatusPending, model.StatusProcessing:
	}
	return scan, nil
}

func decodeResult(it Item) (*model.Result, error) {
	all, err := decodeLabels(it, "all_labels", "debug_labels")
	if err != nil {
		return nil, err
	}
	cats, err := decodeLabels(it, "cat_labels", "catLabels")
	if err != nil {
		return nil, err
	}
	if _, ok := it.first("cat_labels", "catLabels"); !ok {
		for _, l := range all {
			if detection.IsCatLabel(l.Name) {
				cats = append(cats, l)
			}
		}
	}

	res := &model.Result{Labels: all, CatLabels: cats}
	if v, ok := it.first("cats_found", "has_cat", "containsCat"); ok {
		res.CatsFound, err = toBool(v)
		if err != nil {
			return nil, err
		}
	} else {
		res.CatsFound = len(cats) > 0
	}

	if v, ok := it.first("cat_count"); ok {
		n, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		res.CatCount = int(n)
	} else {
		res.CatCount = len(cats)
		if res.CatCount == 0 && res.CatsFound {
			res.CatCount = 1
		}
	}

	if v, ok := it.first("highest_confidence", "cat_confidence", "confidence"); ok {
		res.HighestConfidence, err = toFloat(v)
		if err != nil {
			return nil, err
		}
	} else {
		for _, l := range cats {
			res.HighestConfidence = math.Max(res.HighestConfidence, l.Confidence)
		}
	}
	// An explicit negative verdict wins over stale cat labels.
	if !res.CatsFound {
		res.CatCount = 0
		res.HighestConfidence = 0
		res.CatLabels = []model.Label{}
	}
	res.HighestConfidence = math.Round(res.HighestConfidence*100) / 100
	return res, nil
}

func decodeLabels(it Item, keys ...string) ([]model.Label, error) {
	v, ok := it.first(keys...)
	if !ok {
		return []model.Label{}, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %T", keys[0], v)
	}
	out := make([]model.Label, 0, len(list))
	for i, raw := range list {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected an object, got %T", keys[0], i, raw)
		}
		item := Item(m)
		label := model.Label{Name: item.str("name", "Name")}
		if c, ok := item.first("confidence", "Confidence"); ok {
			conf, err := toFloat(c)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", keys[0], i, err)
			}
			label.Confidence = conf
		}
		switch inst := item["instances"].(type) {
		case []interface{}:
			label.Instances = len(inst)
		case json.Number, float64, string:
			n, err := toFloat(inst)
			if err != nil {
				return nil, fmt.Errorf("%s[%d] instances: %w", keys[0], i, err)
			}
			label.Instances = int(n)
		}
		if instances, ok := item["Instances"].([]interface{}); ok && label.Instances == 0 {
			label.Instances = len(instances)
		}
		out = append(out, label)
	}
	return out, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

// timeLayouts covers RFC 3339 and the offset-less ISO form older writers used.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func contentTypeFromKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return ""
	}
}

// ReadJSONL decodes one item per line and hands each record to fn. Blank
// lines are skipped. It stops at the first decode or callback error.
func ReadJSONL(r io.Reader, fn func(*model.Scan) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)
	n := 0
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var it Item
		if err := dec.Decode(&it); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		scan, err := Decode(it)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(scan); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}
