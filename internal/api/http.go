package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ratnathegod/cloud-cost-router/internal/providers"
	"github.com/ratnathegod/cloud-cost-router/internal/telemetry"
)

const (
	MsgInvalidProvider = "Invalid cloud provider."
	maxBodyBytes       = 1 << 20
)

// CostSuccess is the 200 envelope. Costs is always present, null included.
type CostSuccess struct {
	Success bool `json:"success"`
	Costs   any  `json:"costs"`
}

// CostError is the 4xx/5xx envelope. Message is always present.
type CostError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// cloudProvider reads the discriminator from the exact "cloudProvider" key.
// Struct decoding folds key case, so the body is decoded as a map.
func cloudProvider(body []byte) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", false
	}
	raw, ok := fields["cloudProvider"]
	if !ok {
		return "", false
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", false
	}
	return name, true
}

// HandleCosts dispatches POST /costs to the provider named by cloudProvider.
// Exactly one provider is called per request, once, with the request body.
func HandleCosts(set *providers.Set, metrics *telemetry.Metrics) http.HandlerFunc {
	tracer := otel.Tracer("cloud-cost-router/api")
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rid := telemetry.RequestIDFrom(ctx)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, CostError{Message: "Request body too large."})
				return
			}
			writeJSON(w, http.StatusBadRequest, CostError{Message: MsgInvalidProvider})
			return
		}

		name, ok := cloudProvider(body)
		var provider providers.Provider
		if ok {
			provider, ok = set.Lookup(name)
		}
		if !ok {
			log.Debug().Str("request_id", rid).Str("cloud_provider", name).Msg("rejected cost request")
			writeJSON(w, http.StatusBadRequest, CostError{Message: MsgInvalidProvider})
			return
		}

		ctx, span := tracer.Start(ctx, "FetchCosts")
		span.SetAttributes(attribute.String("cloud.provider", provider.Name()))
		costs, err := provider.FetchCosts(ctx, body)
		metrics.ObserveCostFetch(provider.Name(), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			log.Error().Err(err).Str("request_id", rid).Str("provider", provider.Name()).Msg("cost fetch failed")
			writeJSON(w, http.StatusInternalServerError, CostError{Message: err.Error()})
			return
		}
		span.End()

		writeJSON(w, http.StatusOK, CostSuccess{Success: true, Costs: costs})
	}
}
