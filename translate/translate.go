// Package translate converts raw model completions into validated scene
// edit commands. Translation is strict: anything outside the closed
// command grammar is rejected, never coerced.
package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/types"
)

// Primitives is the closed set of shapes add_object may create.
var Primitives = map[string]bool{
	"cube":     true,
	"sphere":   true,
	"cone":     true,
	"cylinder": true,
	"plane":    true,
}

// Properties is the closed set of scalar attributes set_property may
// touch. Kept in lockstep with what the host exposes per object.
var Properties = map[string]bool{
	"radius":            true,
	"size":              true,
	"width":             true,
	"height":            true,
	"depth":             true,
	"subdivisions":      true,
	"metallic":          true,
	"roughness":         true,
	"emission_strength": true,
	"alpha":             true,
}

// Translator validates completions against the command grammar. It holds
// no mutable state: the same (completion, context) pair always yields the
// same result.
type Translator struct {
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithMetrics attaches a metrics collector for rejection counters.
func WithMetrics(m *metrics.Collector) Option {
	return func(t *Translator) { t.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Translator) { t.logger = l }
}

// New creates a Translator.
func New(opts ...Option) *Translator {
	t := &Translator{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "translate"))
	return t
}

// rawCommand is the wire shape of one command as the model emits it.
// Pointer fields distinguish absent from zero.
type rawCommand struct {
	Op        string       `json:"op"`
	Target    string       `json:"target"`
	Primitive *string      `json:"primitive"`
	Location  *types.Vec3  `json:"location"`
	Property  *string      `json:"property"`
	Value     *float64     `json:"value"`
	Translate *types.Vec3  `json:"translate"`
	RotateDeg *types.Vec3  `json:"rotate_deg"`
	Scale     *types.Vec3  `json:"scale"`
	Color     *types.Color `json:"color"`
}

// Translate parses and validates a completion against the scene context.
// An empty array is a valid no-op. Any violation rejects the whole
// sequence; nothing is partially accepted.
func (t *Translator) Translate(comp *types.RawCompletion, sctx *types.SceneContext) (types.CommandSequence, error) {
	if comp == nil {
		return nil, t.reject(types.NewError(types.ErrMalformedCompletion, "nil completion").WithRule("empty"))
	}

	content := StripFences(comp.Content)
	if strings.TrimSpace(content) == "" {
		return nil, t.reject(types.NewError(types.ErrMalformedCompletion, "completion body is empty").
			WithRule("empty").WithBackend(comp.Backend))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.DisallowUnknownFields()

	var raws []rawCommand
	if err := dec.Decode(&raws); err != nil {
		return nil, t.reject(types.NewError(types.ErrMalformedCompletion, "completion is not a command array").
			WithRule("schema").WithBackend(comp.Backend).WithCause(err))
	}
	if dec.More() {
		return nil, t.reject(types.NewError(types.ErrMalformedCompletion, "trailing content after command array").
			WithRule("schema").WithBackend(comp.Backend))
	}

	seq := make(types.CommandSequence, 0, len(raws))
	for i, raw := range raws {
		cmd, err := t.validate(i, raw, sctx)
		if err != nil {
			return nil, t.reject(err.WithBackend(comp.Backend))
		}
		seq = append(seq, cmd)
	}
	return seq, nil
}

func (t *Translator) validate(i int, raw rawCommand, sctx *types.SceneContext) (types.EditCommand, *types.Error) {
	var zero types.EditCommand
	if raw.Target == "" {
		return zero, malformed(i, "target is required", "missing_target")
	}

	switch types.EditOp(raw.Op) {
	case types.OpAddObject:
		if raw.Primitive == nil || !Primitives[*raw.Primitive] {
			return zero, invalid(i, fmt.Sprintf("primitive %q is not allowed", deref(raw.Primitive)), "primitive_allowlist")
		}
		if raw.Location != nil && !finiteVec(*raw.Location) {
			return zero, invalid(i, "location components must be finite", "finite")
		}
		return types.EditCommand{
			Op:        types.OpAddObject,
			Target:    raw.Target,
			Primitive: *raw.Primitive,
			Location:  raw.Location,
		}, nil

	case types.OpRemoveObject:
		if !sctx.Has(raw.Target) {
			return zero, unknownTarget(i, raw.Target)
		}
		return types.EditCommand{Op: types.OpRemoveObject, Target: raw.Target}, nil

	case types.OpSetProperty:
		if !sctx.Has(raw.Target) {
			return zero, unknownTarget(i, raw.Target)
		}
		if raw.Property == nil || !Properties[*raw.Property] {
			return zero, invalid(i, fmt.Sprintf("property %q is not allowed", deref(raw.Property)), "property_allowlist")
		}
		if raw.Value == nil {
			return zero, malformed(i, "set_property requires a value", "missing_value")
		}
		if !finite(*raw.Value) {
			return zero, invalid(i, "value must be finite", "finite")
		}
		return types.EditCommand{
			Op:       types.OpSetProperty,
			Target:   raw.Target,
			Property: *raw.Property,
			Value:    *raw.Value,
		}, nil

	case types.OpTransform:
		if !sctx.Has(raw.Target) {
			return zero, unknownTarget(i, raw.Target)
		}
		if raw.Translate == nil && raw.RotateDeg == nil && raw.Scale == nil {
			return zero, malformed(i, "transform requires translate, rotate_deg, or scale", "empty_transform")
		}
		if raw.Translate != nil && !finiteVec(*raw.Translate) {
			return zero, invalid(i, "translate components must be finite", "finite")
		}
		if raw.RotateDeg != nil {
			for _, deg := range []float64{raw.RotateDeg.X, raw.RotateDeg.Y, raw.RotateDeg.Z} {
				if !finite(deg) || deg < -360 || deg > 360 {
					return zero, invalid(i, "rotation degrees must lie in [-360, 360]", "rotation_range")
				}
			}
		}
		if raw.Scale != nil {
			for _, s := range []float64{raw.Scale.X, raw.Scale.Y, raw.Scale.Z} {
				if !finite(s) || s <= 0 {
					return zero, invalid(i, "scale components must be positive", "scale_positive")
				}
			}
		}
		return types.EditCommand{
			Op:        types.OpTransform,
			Target:    raw.Target,
			Translate: raw.Translate,
			RotateDeg: raw.RotateDeg,
			Scale:     raw.Scale,
		}, nil

	case types.OpSetColor:
		if !sctx.Has(raw.Target) {
			return zero, unknownTarget(i, raw.Target)
		}
		if raw.Color == nil {
			return zero, malformed(i, "set_color requires a color", "missing_color")
		}
		for _, ch := range []float64{raw.Color.R, raw.Color.G, raw.Color.B, raw.Color.A} {
			if !finite(ch) || ch < 0 || ch > 1 {
				return zero, invalid(i, "color channels must lie in [0, 1]", "color_range")
			}
		}
		return types.EditCommand{Op: types.OpSetColor, Target: raw.Target, Color: raw.Color}, nil

	default:
		return zero, malformed(i, fmt.Sprintf("unknown op %q", raw.Op), "unknown_op")
	}
}

func (t *Translator) reject(err *types.Error) *types.Error {
	if t.metrics != nil {
		t.metrics.RecordTranslateReject(err.Rule)
	}
	t.logger.Debug("completion rejected",
		zap.String("code", string(err.Code)),
		zap.String("rule", err.Rule),
		zap.String("reason", err.Message))
	return err
}

func malformed(i int, msg, rule string) *types.Error {
	return types.NewError(types.ErrMalformedCompletion, fmt.Sprintf("command %d: %s", i, msg)).WithRule(rule)
}

func invalid(i int, msg, rule string) *types.Error {
	return types.NewError(types.ErrInvalidParameter, fmt.Sprintf("command %d: %s", i, msg)).WithRule(rule)
}

func unknownTarget(i int, target string) *types.Error {
	return types.NewError(types.ErrUnknownTarget,
		fmt.Sprintf("command %d: object %q is not in the scene", i, target)).WithRule("target_exists")
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteVec(v types.Vec3) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StripFences removes one enclosing markdown code fence, with or without
// a language tag. Models often wrap the command array in ```json fences
// even when told not to; this is the only normalization tolerated.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
