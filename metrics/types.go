package metrics

// Value represents a metric value as a float64.
type Value float64

// Dimension represents metric dimensions as key-value pairs.
// Dimensions add contextual information to a metric, such as the mode name,
// the connection type or the handler opcode.
type Dimension map[string]string
