package types

import "time"

// SceneObject is one entry of the bounded scene snapshot handed to the
// router and translator. Properties hold the numeric attributes the host
// exposes for the object (dimensions, material channels, and so on).
type SceneObject struct {
	Name       string             `json:"name"`
	Kind       string             `json:"kind,omitempty"`
	Properties map[string]float64 `json:"properties,omitempty"`
}

// SceneContext is a serialized description of the objects currently
// selected in the host tool. It is passed explicitly through the pipeline
// so translation stays testable with synthetic contexts.
type SceneContext struct {
	Objects []SceneObject `json:"objects"`
}

// Has reports whether the context contains an object with the given name.
func (c *SceneContext) Has(name string) bool {
	if c == nil {
		return false
	}
	for _, o := range c.Objects {
		if o.Name == name {
			return true
		}
	}
	return false
}

// Names returns the object names in context order.
func (c *SceneContext) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Objects))
	for _, o := range c.Objects {
		names = append(names, o.Name)
	}
	return names
}

// EditRequest is one user instruction. Created per user action, never
// persisted.
type EditRequest struct {
	Prompt           string        `json:"prompt"`
	Context          *SceneContext `json:"context,omitempty"`
	PreferredBackend string        `json:"preferred_backend,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
}

// RawCompletion is the untranslated output of one backend dispatch.
type RawCompletion struct {
	Backend   string    `json:"backend"`
	Model     string    `json:"model,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// EditOp tags one scene-edit operation. The set is closed: the translator
// rejects anything outside it.
type EditOp string

const (
	OpAddObject    EditOp = "add_object"
	OpRemoveObject EditOp = "remove_object"
	OpSetProperty  EditOp = "set_property"
	OpTransform    EditOp = "transform"
	OpSetColor     EditOp = "set_color"
)

// Vec3 is a three-component vector parameter.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Color is an RGBA color with channels in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// EditCommand is one validated scene edit. Only the fields relevant to Op
// are set; the translator is the sole producer.
type EditCommand struct {
	Op     EditOp `json:"op"`
	Target string `json:"target"`

	// add_object
	Primitive string `json:"primitive,omitempty"`
	Location  *Vec3  `json:"location,omitempty"`

	// set_property
	Property string  `json:"property,omitempty"`
	Value    float64 `json:"value,omitempty"`

	// transform
	Translate *Vec3 `json:"translate,omitempty"`
	RotateDeg *Vec3 `json:"rotate_deg,omitempty"`
	Scale     *Vec3 `json:"scale,omitempty"`

	// set_color
	Color *Color `json:"color,omitempty"`
}

// CommandSequence is an ordered, validated list of edits. An empty
// sequence is a valid no-op.
type CommandSequence []EditCommand
