package protocol

// This package implements the resumable binary codec that cache messages are
// written with.
//
// Messages travel over non-blocking sockets. The transport hands the codec a
// fixed-capacity buffer, the codec fills (or drains) as much of it as it can
// and returns. A single message may need any number of these calls, and the
// buffer may run out at any byte: in the middle of an int, in the middle of a
// byte array, or in the middle of an element of a collection.
//
// The codec aims to
//
// - never re-encode or re-decode something already committed
// - use O(1) extra memory per pass, regardless of how often it suspends
// - keep the wire layout independent of the shape of business objects
//
// === Suspend / resume
//
// Every Put/Get returns a completion flag. `false` means "buffer exhausted",
// never an error. A message keeps its progress in the Cursor of the Writer or
// Reader driving it:
//
// - `Field()` is the next field to process. It only advances once a field has
//   been fully committed.
// - `Size()` / `Items()` track the collection in progress, the element at
//   `Items()` is pending.
// - `Sub()` is the step inside a multi-part element.
//
// Messages encode themselves with a `switch` on `Field()` falling through
// from the resume point, e.g.
//
//   ```
//   switch w.Field() {
//   case 3:
//       if !w.PutByteArray(m.errBytes) {
//           return false
//       }
//       w.Advance(3)
//       fallthrough
//   case 4:
//       ...
//   }
//   ```
//
// === Encoding
//
// - integers are big-endian two's complement: byte (1), int (4), long (8)
// - bool is a byte, 0 or 1
// - byte arrays and long lists are `<int length><elements>`
// - collections are `<int length><element>...`
// - a length of -1 means nil, a length of 0 means empty
// - value bytes are `<tag byte>` (0 null, 1 marshaled, 2 plain) followed by a
//   byte array when not null
// - version records are `<presence byte>` followed by 24 bytes when present:
//   `<topology uint32><node order uint32><global time int64><order uint64>`
//
// === Message layout
//
//   ```
//   <direct type byte>
//   0: cache ID (int)
//   1: message ID (long)
//   2: topology version (long)
//   3..: message specific fields
//   ```
//
// Field indices are part of the wire contract, renumbering them needs a
// protocol version bump.
//
