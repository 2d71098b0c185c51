package affect

import (
	"encoding/json"
	"math"
)

// Channel names one scalar of the affect vector.
type Channel string

// The fixed channel set. Every session carries all of them.
const (
	Joy          Channel = "joy"
	Sadness      Channel = "sadness"
	Fear         Channel = "fear"
	Anger        Channel = "anger"
	Trust        Channel = "trust"
	Disgust      Channel = "disgust"
	Surprise     Channel = "surprise"
	Anticipation Channel = "anticipation"
	Loneliness   Channel = "loneliness"
	Excitement   Channel = "excitement"
	Curiosity    Channel = "curiosity"
	Contentment  Channel = "contentment"
	Anxiety      Channel = "anxiety"
	Boredom      Channel = "boredom"
	Affection    Channel = "affection"
	Pride        Channel = "pride"
	Guilt        Channel = "guilt"
	Hope         Channel = "hope"
)

// Channels lists all channels in a fixed order.
var Channels = []Channel{
	Joy, Sadness, Fear, Anger, Trust, Disgust, Surprise, Anticipation,
	Loneliness, Excitement, Curiosity, Contentment, Anxiety, Boredom,
	Affection, Pride, Guilt, Hope,
}

// Neutral is the default value of every channel.
const Neutral = 0.5

// Precision is the quantization step applied on every write. Keeps repeated
// decay from amplifying floating-point noise.
const Precision = 0.1

// Vector holds the current value of every channel, each in [0, 1].
type Vector map[Channel]float64

// NewVector returns a vector with every channel at Neutral.
func NewVector() Vector {
	v := make(Vector, len(Channels))
	for _, ch := range Channels {
		v[ch] = Neutral
	}
	return v
}

// Get returns the channel value, Neutral when missing.
func (v Vector) Get(ch Channel) float64 {
	if val, ok := v[ch]; ok {
		return val
	}
	return Neutral
}

// Set clamps, quantizes and stores a channel value.
func (v Vector) Set(ch Channel, val float64) {
	v[ch] = Quantize(Clamp01(val))
}

// Clone returns a copy with every channel defined.
func (v Vector) Clone() Vector {
	out := make(Vector, len(Channels))
	for _, ch := range Channels {
		out[ch] = v.Get(ch)
	}
	return out
}

// MarshalJSON writes the vector as a plain name→value object.
func (v Vector) MarshalJSON() ([]byte, error) {
	m := make(map[Channel]float64, len(Channels))
	for _, ch := range Channels {
		m[ch] = v.Get(ch)
	}
	return json.Marshal(m)
}

// FromJSON parses a vector, filling missing channels with Neutral and
// normalizing out-of-range values.
func FromJSON(data string) Vector {
	v := NewVector()
	if data == "" {
		return v
	}
	var raw map[Channel]float64
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return v
	}
	for _, ch := range Channels {
		if val, ok := raw[ch]; ok {
			v.Set(ch, val)
		}
	}
	return v
}

// ToJSON serializes the vector; errors cannot occur for a plain float map.
func (v Vector) ToJSON() string {
	b, _ := v.MarshalJSON()
	return string(b)
}

// Clamp01 bounds x to [0, 1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Quantize rounds x to the fixed precision grid.
func Quantize(x float64) float64 {
	return math.Round(x/Precision) * Precision
}
