package wire

// ProtocolVersion is the latest protocol version this node understands and
// announces in its version message.
const ProtocolVersion uint32 = 70015
