package parquet

import (
	"fmt"
	"regexp"
	"strings"
)

type Field struct {
	Name           string
	Type           string
	ConvertedType  string
	RepetitionType string
}

type Schema []Field

var nonIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// ColumnName turns a free form header into a parquet column name.
func ColumnName(header string) string {
	n := strings.ToLower(strings.TrimSpace(header))
	n = nonIdentChars.ReplaceAllString(n, "_")
	n = strings.Trim(n, "_")
	if n == "" {
		n = "column"
	}
	if n[0] >= '0' && n[0] <= '9' {
		n = "c_" + n
	}
	return n
}

// StringSchema builds an all string schema for the given headers. Names
// already taken after sanitizing get the first free numeric suffix.
func StringSchema(headers []string) Schema {
	used := make(map[string]bool, len(headers))
	s := make(Schema, len(headers))
	for i, h := range headers {
		base := ColumnName(h)
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		s[i] = Field{
			Name:           name,
			Type:           "BYTE_ARRAY",
			ConvertedType:  "UTF8",
			RepetitionType: "OPTIONAL",
		}
	}
	return s
}

func (s Schema) ToGoParquetSchema() []string {
	schema := make([]string, len(s))
	for i, field := range s {
		parts := []string{
			fmt.Sprintf("name=%s", field.Name),
			fmt.Sprintf("type=%s", field.Type),
		}
		if field.ConvertedType != "" {
			parts = append(parts, fmt.Sprintf("convertedtype=%s", field.ConvertedType))
		}
		if field.RepetitionType != "" {
			parts = append(parts, fmt.Sprintf("repetitiontype=%s", field.RepetitionType))
		}
		schema[i] = strings.Join(parts, ", ")
	}

	return schema
}
