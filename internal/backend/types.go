package backend

import "bytes"

// Output collects everything a Run call wrote to its Sink.
type Output struct {
	buf      bytes.Buffer
	Records  []map[string]string
	Messages []string
}

func (o *Output) Text(data []byte) { o.buf.Write(data) }

func (o *Output) Record(fields map[string]string) {
	o.Records = append(o.Records, fields)
}

func (o *Output) Message(msg string) { o.Messages = append(o.Messages, msg) }

// String returns the collected text output.
func (o *Output) String() string {
	if o == nil {
		return ""
	}
	return o.buf.String()
}

// Bytes returns the collected text output.
func (o *Output) Bytes() []byte {
	if o == nil {
		return nil
	}
	return o.buf.Bytes()
}
