package configutil

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings fills a typed config struct from the free-form `settings`
// map a vendor or transport block carries. Input is weakly typed so YAML
// scalars decode into durations, ints and bools, and keys match fields
// regardless of snake_case or kebab-case spelling.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
