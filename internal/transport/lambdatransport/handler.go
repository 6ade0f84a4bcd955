package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/awmpietro/golang-cascade-escalation/internal/app"
	"github.com/awmpietro/golang-cascade-escalation/internal/transport/cascadedto"
)

type Handler struct {
	svc app.CascadeService
}

func NewHandler(svc app.CascadeService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Run(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, err := readBody(req)
	if err != nil {
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid body", "details": err.Error()}, nil), nil
	}

	var in cascadedto.RunRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid json", "details": err.Error()}, nil), nil
	}

	out, err := h.svc.Run(ctx, in.ToApp(header(req.Headers, cascadedto.TraceparentHeader)))
	var headers map[string]string
	if out != nil && out.Traceparent != "" {
		headers = map[string]string{cascadedto.TraceparentHeader: out.Traceparent}
	}
	if err != nil {
		return jsonResp(cascadedto.StatusFor(err), cascadedto.ErrorBody("cascade failed", err, out), headers), nil
	}
	return jsonResp(http.StatusOK, cascadedto.NewRunResponse(out, in.Debug), headers), nil
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// header looks a header up case-insensitively; API Gateway passes them lowercased
// but direct invocations may not.
func header(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func jsonResp(status int, body any, extra map[string]string) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(body)
	headers := map[string]string{"content-type": "application/json"}
	for k, v := range extra {
		headers[k] = v
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(b),
	}
}
