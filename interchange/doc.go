// Package interchange serializes ir.Module values to the protobuf wire
// format described by wasm.proto and back.
//
// Marshal and Unmarshal are written against protowire directly, so field
// presence in the IR (nil pointers) maps one-to-one onto field presence on
// the wire. Unmarshal skips unknown fields and accepts packed and unpacked
// repeated scalars. Missing required fields are not an Unmarshal error; they
// surface as field_missing when the module is encoded.
package interchange
