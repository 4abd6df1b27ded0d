package server

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/config"
)

// ParamOverrides replaces individual default analysis parameters. Nil
// fields keep the adapter's configured value.
type ParamOverrides struct {
	Threshold            *float64
	MinSpeechDurationMs  *int
	MinSilenceDurationMs *int
	SpeechPadMs          *int
}

// Apply overrides fields of cfg and validates the resulting parameters.
func (o ParamOverrides) Apply(cfg *config.Config) error {
	if o.Threshold != nil {
		cfg.Threshold = *o.Threshold
	}
	if o.MinSpeechDurationMs != nil {
		cfg.MinSpeechDurationMs = *o.MinSpeechDurationMs
	}
	if o.MinSilenceDurationMs != nil {
		cfg.MinSilenceDurationMs = *o.MinSilenceDurationMs
	}
	if o.SpeechPadMs != nil {
		cfg.SpeechPadMs = *o.SpeechPadMs
	}
	return cfg.ValidateVADParams()
}

// AnalyzeRequest asks for the analysis of the audio file at Path.
//
// Wire form: {"path": string, "force": bool, "params": {"threshold": number,
// "min_speech_duration_ms": number, "min_silence_duration_ms": number,
// "speech_pad_ms": number}}.
type AnalyzeRequest struct {
	Path   string
	Force  bool
	Params ParamOverrides
}

// LookupRequest asks for the stored result for Path without analyzing.
type LookupRequest struct {
	Path   string
	Params ParamOverrides
}

// AnalyzeResponse carries the result and how it was served.
//
// Wire form: {"key": string, "resolution": string, "created_at": RFC 3339
// string, "ranges": [{"start", "end", "confidence"}], "metadata": {...}}.
type AnalyzeResponse struct {
	Key        cache.Key
	Resolution cache.Resolution
	CreatedAt  time.Time
	Result     analysis.Result
}

// LookupResponse is AnalyzeResponse without a resolution, plus Found.
type LookupResponse struct {
	Found     bool
	Key       cache.Key
	CreatedAt time.Time
	Result    analysis.Result
}

func (r AnalyzeRequest) toStruct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"path":  structpb.NewStringValue(r.Path),
		"force": structpb.NewBoolValue(r.Force),
	}
	if p := r.Params.toStruct(); p != nil {
		fields["params"] = structpb.NewStructValue(p)
	}
	return &structpb.Struct{Fields: fields}
}

func (r LookupRequest) toStruct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"path": structpb.NewStringValue(r.Path),
	}
	if p := r.Params.toStruct(); p != nil {
		fields["params"] = structpb.NewStructValue(p)
	}
	return &structpb.Struct{Fields: fields}
}

func (o ParamOverrides) toStruct() *structpb.Struct {
	fields := map[string]*structpb.Value{}
	if o.Threshold != nil {
		fields["threshold"] = structpb.NewNumberValue(*o.Threshold)
	}
	if o.MinSpeechDurationMs != nil {
		fields["min_speech_duration_ms"] = structpb.NewNumberValue(float64(*o.MinSpeechDurationMs))
	}
	if o.MinSilenceDurationMs != nil {
		fields["min_silence_duration_ms"] = structpb.NewNumberValue(float64(*o.MinSilenceDurationMs))
	}
	if o.SpeechPadMs != nil {
		fields["speech_pad_ms"] = structpb.NewNumberValue(float64(*o.SpeechPadMs))
	}
	if len(fields) == 0 {
		return nil
	}
	return &structpb.Struct{Fields: fields}
}

func parseAnalyzeRequest(s *structpb.Struct) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	for name, v := range s.GetFields() {
		var err error
		switch name {
		case "path":
			req.Path, err = stringValue(name, v)
		case "force":
			req.Force, err = boolValue(name, v)
		case "params":
			req.Params, err = parseOverrides(v)
		default:
			err = fmt.Errorf("unknown field %q", name)
		}
		if err != nil {
			return AnalyzeRequest{}, err
		}
	}
	if req.Path == "" {
		return AnalyzeRequest{}, fmt.Errorf("path is required")
	}
	return req, nil
}

func parseLookupRequest(s *structpb.Struct) (LookupRequest, error) {
	var req LookupRequest
	for name, v := range s.GetFields() {
		var err error
		switch name {
		case "path":
			req.Path, err = stringValue(name, v)
		case "params":
			req.Params, err = parseOverrides(v)
		default:
			err = fmt.Errorf("unknown field %q", name)
		}
		if err != nil {
			return LookupRequest{}, err
		}
	}
	if req.Path == "" {
		return LookupRequest{}, fmt.Errorf("path is required")
	}
	return req, nil
}

func parseOverrides(v *structpb.Value) (ParamOverrides, error) {
	sv, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return ParamOverrides{}, fmt.Errorf("params must be an object")
	}
	var o ParamOverrides
	for name, fv := range sv.StructValue.GetFields() {
		switch name {
		case "threshold":
			f, err := numberValue(name, fv)
			if err != nil {
				return ParamOverrides{}, err
			}
			o.Threshold = &f
		case "min_speech_duration_ms", "min_silence_duration_ms", "speech_pad_ms":
			n, err := intValue(name, fv)
			if err != nil {
				return ParamOverrides{}, err
			}
			switch name {
			case "min_speech_duration_ms":
				o.MinSpeechDurationMs = &n
			case "min_silence_duration_ms":
				o.MinSilenceDurationMs = &n
			default:
				o.SpeechPadMs = &n
			}
		default:
			return ParamOverrides{}, fmt.Errorf("unknown parameter %q", name)
		}
	}
	return o, nil
}

func stringValue(name string, v *structpb.Value) (string, error) {
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return sv.StringValue, nil
}

func boolValue(name string, v *structpb.Value) (bool, error) {
	bv, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%s must be a bool", name)
	}
	return bv.BoolValue, nil
}

func numberValue(name string, v *structpb.Value) (float64, error) {
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return nv.NumberValue, nil
}

func intValue(name string, v *structpb.Value) (int, error) {
	f, err := numberValue(name, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a whole number of milliseconds, got %g", name, f)
	}
	return int(f), nil
}

// resultFields encodes the shared response fields.
func resultFields(key cache.Key, createdAt time.Time, res analysis.Result) map[string]*structpb.Value {
	ranges := make([]*structpb.Value, 0, len(res.Ranges))
	for _, r := range res.Ranges {
		ranges = append(ranges, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"start":      structpb.NewNumberValue(r.Start),
			"end":        structpb.NewNumberValue(r.End),
			"confidence": structpb.NewNumberValue(r.Confidence),
		}}))
	}
	meta := make(map[string]*structpb.Value, len(res.Metadata))
	for k, v := range res.Metadata {
		meta[k] = structpb.NewNumberValue(v)
	}
	return map[string]*structpb.Value{
		"key":        structpb.NewStringValue(string(key)),
		"created_at": structpb.NewStringValue(createdAt.UTC().Format(time.RFC3339Nano)),
		"ranges":     structpb.NewListValue(&structpb.ListValue{Values: ranges}),
		"metadata":   structpb.NewStructValue(&structpb.Struct{Fields: meta}),
	}
}

func encodeOutcome(out cache.Outcome) *structpb.Struct {
	fields := resultFields(out.Key, out.CreatedAt, out.Result)
	fields["resolution"] = structpb.NewStringValue(string(out.Resolution))
	return &structpb.Struct{Fields: fields}
}

func encodeLookup(e cache.Entry, found bool) *structpb.Struct {
	if !found {
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"found": structpb.NewBoolValue(false),
		}}
	}
	fields := resultFields(e.Key, e.CreatedAt, e.Result)
	fields["found"] = structpb.NewBoolValue(true)
	return &structpb.Struct{Fields: fields}
}

// decodeResult parses the shared response fields.
func decodeResult(s *structpb.Struct) (cache.Key, time.Time, analysis.Result, error) {
	f := s.GetFields()
	key, err := stringValue("key", f["key"])
	if err != nil {
		return "", time.Time{}, analysis.Result{}, err
	}
	ts, err := stringValue("created_at", f["created_at"])
	if err != nil {
		return "", time.Time{}, analysis.Result{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return "", time.Time{}, analysis.Result{}, fmt.Errorf("created_at: %w", err)
	}

	res := analysis.Result{Metadata: map[string]float64{}}
	for i, v := range f["ranges"].GetListValue().GetValues() {
		rf := v.GetStructValue().GetFields()
		var r analysis.SpeechRange
		if r.Start, err = numberValue(fmt.Sprintf("ranges[%d].start", i), rf["start"]); err != nil {
			return "", time.Time{}, analysis.Result{}, err
		}
		if r.End, err = numberValue(fmt.Sprintf("ranges[%d].end", i), rf["end"]); err != nil {
			return "", time.Time{}, analysis.Result{}, err
		}
		if r.Confidence, err = numberValue(fmt.Sprintf("ranges[%d].confidence", i), rf["confidence"]); err != nil {
			return "", time.Time{}, analysis.Result{}, err
		}
		res.Ranges = append(res.Ranges, r)
	}
	for k, v := range f["metadata"].GetStructValue().GetFields() {
		if res.Metadata[k], err = numberValue("metadata."+k, v); err != nil {
			return "", time.Time{}, analysis.Result{}, err
		}
	}
	if res.Ranges == nil {
		res.Ranges = []analysis.SpeechRange{}
	}
	return cache.Key(key), createdAt, res, nil
}
