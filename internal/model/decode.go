package model

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

var lenient = sonic.Config{UseInt64: true}.Froze()

// DecodeNotification reads the known fields of a notification object without
// enforcing their types and keeps a copy of the payload in Raw. Fields of an
// unexpected type are left zero. Only a payload that is not a JSON object fails.
func DecodeNotification(raw []byte) (Notification, error) {
	var fields map[string]any
	if err := lenient.Unmarshal(raw, &fields); err != nil {
		return Notification{}, err
	}
	if fields == nil {
		return Notification{}, fmt.Errorf("notification is not an object: %.32q", raw)
	}

	return Notification{
		ID:          int64Field(fields["id"]),
		Title:       stringField(fields["title"]),
		Content:     stringField(fields["content"]),
		IsUrgent:    boolField(fields["is_urgent"]),
		Status:      Status(stringField(fields["status"])),
		CreatedAt:   stringField(fields["created_at"]),
		Service:     stringField(fields["service"]),
		RecipientID: stringField(fields["recipient_id"]),
		Raw:         append([]byte(nil), raw...),
	}, nil
}

func int64Field(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

func stringField(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func boolField(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	default:
		return false
	}
}
