package sqsjobs

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	FifoThroughputLimitAWS string = "FifoThroughputLimit"
	DeduplicationScopeAWS  string = "DeduplicationScope"
)

// Attr.Value
var attrValues = map[string]map[string]string{ //nolint:gochecknoglobals
	// FifoThroughputLimit – Specifies whether the FIFO queue throughput quota applies to the entire
	// queue or per message group. Valid values are perQueue and perMessageGroupId.
	FifoThroughputLimitAWS: {
		"perqueue":          "perQueue",
		"permessagegroupid": "perMessageGroupId",
	},
	// DeduplicationScope – Specifies whether message deduplication occurs at the
	// message group or queue level. Valid values are messageGroup and queue.
	DeduplicationScopeAWS: {
		"messagegroup": "messageGroup",
		"queue":        "queue",
	},
}

// toAwsAttribute maps case-insensitive attribute names to their AWS spelling. Unknown names
// and unsupported enumerated values are skipped.
func toAwsAttribute(attrs map[string]string, ret map[string]string) {
	known := types.QueueAttributeName("").Values()

	for k, v := range attrs {
		name, ok := awsName(known, k)
		if !ok {
			continue
		}

		if values, enumerated := attrValues[name]; enumerated {
			norm, valid := values[strings.ToLower(v)]
			if !valid {
				continue
			}
			v = norm
		}

		ret[name] = v
	}
}

func awsName(known []types.QueueAttributeName, key string) (string, bool) {
	for _, n := range known {
		if n == types.QueueAttributeNameAll {
			continue
		}

		if strings.EqualFold(string(n), key) {
			return string(n), true
		}
	}

	return "", false
}
