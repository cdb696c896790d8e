package model

import (
	"sort"

	"github.com/cloudwego/eino/schema"

	"agentflow/internal/domain"
)

func toolInfos(specs []domain.ToolSpec) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(specs))
	for _, spec := range specs {
		out = append(out, &schema.ToolInfo{
			Name:        spec.Name,
			Desc:        spec.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(objectParams(spec.Schema)),
		})
	}
	return out
}

// objectParams converts the properties of a JSON object schema into eino
// parameter descriptions.
func objectParams(obj map[string]any) map[string]*schema.ParameterInfo {
	props, _ := obj["properties"].(map[string]any)
	required := requiredSet(obj["required"])
	params := make(map[string]*schema.ParameterInfo, len(props))
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		info := paramInfo(prop)
		info.Required = required[name]
		params[name] = info
	}
	return params
}

func paramInfo(prop map[string]any) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type: dataType(prop["type"]),
	}
	if desc, ok := prop["description"].(string); ok {
		info.Desc = desc
	}
	if values, ok := prop["enum"].([]any); ok {
		for _, value := range values {
			if s, ok := value.(string); ok {
				info.Enum = append(info.Enum, s)
			}
		}
	}
	switch info.Type {
	case schema.Array:
		items, _ := prop["items"].(map[string]any)
		info.ElemInfo = paramInfo(items)
	case schema.Object:
		if _, ok := prop["properties"]; ok {
			info.SubParams = objectParams(prop)
		}
	}
	return info
}

func dataType(value any) schema.DataType {
	name, _ := value.(string)
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && s != "null" {
				name = s
				break
			}
		}
	}
	switch name {
	case "string":
		return schema.String
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "null":
		return schema.Null
	default:
		return schema.Object
	}
}

func requiredSet(value any) map[string]bool {
	out := map[string]bool{}
	switch list := value.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out[s] = true
			}
		}
	case []string:
		for _, s := range list {
			out[s] = true
		}
	}
	return out
}
