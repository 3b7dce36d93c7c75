package sqsjobs

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
)

// BodyFormat tells the parser how to interpret message bodies.
type BodyFormat string

const (
	BodyString BodyFormat = "string"
	BodyJSON   BodyFormat = "json"
)

// Parser converts SQS messages into jobs. Its configuration is fixed at construction.
type Parser struct {
	classAttribute string
	format         BodyFormat
}

func NewParser(classAttribute string, format BodyFormat) *Parser {
	if format == "" {
		format = BodyString
	}

	return &Parser{
		classAttribute: classAttribute,
		format:         format,
	}
}

// Parse builds a Job from msg. The only failure is a body which is not valid JSON under the
// json body format; such errors carry the errors.Decode kind.
func (p *Parser) Parse(msg *types.Message) (*Job, error) {
	const op = errors.Op("sqs_parse")

	attrs := convMessageAttr(msg.MessageAttributes)

	body, err := p.body(msg.Body)
	if err != nil {
		return nil, errors.E(op, errors.Decode, err)
	}

	return &Job{
		ID:           messageID(msg),
		Class:        p.class(attrs),
		Attributes:   attrs,
		Body:         body,
		ReceiveCount: receiveCount(msg),
		Message:      msg,
	}, nil
}

func (p *Parser) class(attrs map[string]string) string {
	if p.classAttribute == "" {
		return DefaultJobClass
	}

	if cl, ok := attrs[p.classAttribute]; ok && cl != "" {
		return cl
	}

	return DefaultJobClass
}

func (p *Parser) body(raw *string) (any, error) {
	if p.format != BodyJSON {
		return checkBody(raw), nil
	}

	data := checkBody(raw)
	if data == "" {
		data = "{}"
	}

	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}

	return v, nil
}

// convMessageAttr keeps String and Number attributes. Binary (and custom binary) attributes
// are dropped.
func convMessageAttr(h map[string]types.MessageAttributeValue) map[string]string {
	ret := make(map[string]string, len(h))

	for k, v := range h {
		if v.DataType == nil || v.StringValue == nil {
			continue
		}

		// Amazon SQS supports the following logical data types: String, Number, and Binary.
		switch baseType(*v.DataType) {
		case StringType, NumberType:
			ret[k] = *v.StringValue
		}
	}

	return ret
}

// baseType strips the custom type suffix: "Number.float" -> "Number".
func baseType(dataType string) string {
	if i := strings.IndexByte(dataType, '.'); i >= 0 {
		return dataType[:i]
	}

	return dataType
}
