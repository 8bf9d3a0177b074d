// Package srt receives ASF byte streams over SRT (Secure Reliable
// Transport). Server accepts publish connections in listener mode; Caller
// pulls from remote SRT listeners. Either way the bytes land in an
// ingest.Registry stream queue.
package srt
