// Package event defines the length-prefixed record written to output
// files and the metadata stamped on digitizer buffers.
//
// A record is a 24 byte little-endian header followed by the payload:
//
//	offset size field
//	0      4    record length, header included
//	4      2    board
//	6      2    channel
//	8      8    sequence number
//	16     8    timestamp, nanoseconds
//	24     n    payload
//
// Records are packed back to back with no padding. A digitizer buffer and
// an output file are both plain sequences of records.
package event
