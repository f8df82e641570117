package marshal

// Preparer is implemented by messages holding objects that must be turned
// into bytes before the wire pass starts. PrepareMarshal runs once, before
// the first Encode.
type Preparer interface {
	PrepareMarshal(m Marshaller, res *Resolver) error
}

// Finisher is implemented by messages whose wire fields carry marshaled
// objects. FinishUnmarshal runs once, after Decode completed. An error is
// terminal: the message must be discarded.
type Finisher interface {
	FinishUnmarshal(m Marshaller, res *Resolver) error
}
