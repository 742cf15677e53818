package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// systemPrompt instructs vision models to answer with receipt JSON only.
const systemPrompt = `You read photographs of purchase receipts.
Reply with a single JSON object and nothing else:
{"total": "<amount printed as the receipt total>", "items": [{"name": "<article>", "price": "<amount>"}]}
Use the receipt's own article names. Prices are per line as printed, with discounts as negative amounts.
If the image is not a receipt, reply {"error": "not a receipt"}.`

const userPrompt = "Extract the items and total from this receipt."

// visionResult is the JSON a vision model is asked to produce.
type visionResult struct {
	wireResult
	Error string `json:"error,omitempty"`
}

// decodeVisionReply parses the text reply of a vision model.
func decodeVisionReply(provider, text string) (*Result, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, &Error{Kind: Malformed, Provider: provider, Err: fmt.Errorf("no JSON in reply %q", truncate(text, 80))}
	}
	var vr visionResult
	if err := json.Unmarshal([]byte(raw), &vr); err != nil {
		return nil, &Error{Kind: Malformed, Provider: provider, Err: fmt.Errorf("decode reply: %w", err)}
	}
	if vr.Error != "" && len(vr.Items) == 0 {
		return nil, &Error{Kind: BadImage, Provider: provider, Err: errors.New(vr.Error)}
	}
	return vr.toResult(provider)
}

// imageMimeType returns a mime type vision APIs accept, sniffing when the
// channel did not say.
func imageMimeType(img Image) (string, error) {
	mt := img.MimeType
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(img.Data)
	}
	switch mt {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return mt, nil
	}
	if strings.HasPrefix(mt, "image/") {
		return "", fmt.Errorf("unsupported image type %s", mt)
	}
	return "", fmt.Errorf("not an image (%s)", mt)
}

// encodeImage validates img and returns its mime type and base64 payload.
func encodeImage(provider string, img Image) (string, string, error) {
	if len(img.Data) == 0 {
		return "", "", &Error{Kind: BadImage, Provider: provider, Err: errors.New("empty image")}
	}
	mt, err := imageMimeType(img)
	if err != nil {
		return "", "", &Error{Kind: BadImage, Provider: provider, Err: err}
	}
	return mt, base64.StdEncoding.EncodeToString(img.Data), nil
}

// sdkError maps an error returned by a provider SDK. statusCode is zero
// when the SDK did not get an HTTP response.
func sdkError(ctx context.Context, provider string, statusCode int, err error) *Error {
	if statusCode > 0 {
		return statusError(provider, statusCode, err)
	}
	return transportError(ctx, provider, err)
}
