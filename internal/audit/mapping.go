package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseRoute returns action and resource for a gin route template (e.g. "POST", "/api/roles/:id/permissions").
// The resource is built from the last two literal segments, singularized
// (roles/:id/permissions -> role_permission, roles/:id -> role).
// The action follows the HTTP verb: GET get/list, POST create, PUT/PATCH update, DELETE delete.
func ParseRoute(method, route string) ActionResource {
	var literals []string
	trailingParam := false
	for _, seg := range strings.Split(strings.Trim(route, "/"), "/") {
		if seg == "" || seg == "api" || seg == "me" {
			continue
		}
		if strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "*") {
			trailingParam = true
			continue
		}
		trailingParam = false
		literals = append(literals, seg)
	}
	if len(literals) == 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := singular(literals[len(literals)-1])
	if len(literals) > 1 {
		resource = singular(literals[len(literals)-2]) + "_" + resource
	}
	return ActionResource{Action: methodToAction(method, trailingParam), Resource: resource}
}

func singular(s string) string {
	s = strings.ReplaceAll(s, "-", "_")
	if strings.HasSuffix(s, "ies") {
		return strings.TrimSuffix(s, "ies") + "y"
	}
	if strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") {
		return strings.TrimSuffix(s, "s")
	}
	return s
}

func methodToAction(method string, item bool) string {
	switch strings.ToUpper(method) {
	case "GET":
		if item {
			return "get"
		}
		return "list"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
