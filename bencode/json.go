package bencode

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// MarshalJSON renders a decoded value as JSON: strings as JSON strings,
// integers as numbers, lists as arrays and dictionaries as objects.
// Byte strings that are not valid UTF-8 cannot be represented and
// produce an error.
func MarshalJSON(val interface{}) ([]byte, error) {
	if err := checkUTF8(val); err != nil {
		return nil, err
	}
	return json.Marshal(val)
}

func checkUTF8(val interface{}) error {
	switch v := val.(type) {
	case string:
		if !utf8.ValidString(v) {
			return fmt.Errorf("bencode: string %q is not valid UTF-8", v)
		}
	case []interface{}:
		for _, item := range v {
			if err := checkUTF8(item); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		for k, item := range v {
			if !utf8.ValidString(k) {
				return fmt.Errorf("bencode: key %q is not valid UTF-8", k)
			}
			if err := checkUTF8(item); err != nil {
				return err
			}
		}
	}
	return nil
}
