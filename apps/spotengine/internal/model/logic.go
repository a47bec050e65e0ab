package model

// Logic is a boolean expression tree over indicator and market comparisons.
// A node is either a group (Op with Children) or a leaf (Field, Comparator, Value).
type Logic struct {
	Op       string  `json:"op,omitempty"`
	Children []Logic `json:"children,omitempty"`

	Field      string  `json:"field,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	Period     int     `json:"period,omitempty"`
	Comparator string  `json:"comparator,omitempty"`
	Value      float64 `json:"value,omitempty"`
}

func (l *Logic) IsLeaf() bool {
	return len(l.Children) == 0
}
