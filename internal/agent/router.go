package agent

import "strings"

// Route is the result of intent classification for one user message.
// It is computed by pure keyword matching, no model call involved.
type Route struct {
	Intent     string // create | modify | delete | query | shader | toon | animation | render | search | generate_3d | general
	Domain     string // scene | shader | animation | toon | meshy | render | general
	Complexity string // simple | complex
}

func (r Route) IsComplex() bool { return r.Complexity == "complex" }

// ImpliesTools reports whether the intent normally requires tool use.
// Pure search/query chat can legitimately finish without a call, so a
// missing call is only treated as a protocol failure for acting intents.
func (r Route) ImpliesTools() bool {
	switch r.Intent {
	case "create", "modify", "delete", "shader", "toon", "animation", "render", "generate_3d":
		return true
	}
	return false
}

type keywordRule struct {
	keyword string
	intent  string
	domain  string
}

// Ordered so that earlier, more specific rules win. A map would give
// nondeterministic match order for messages hitting several keywords.
var keywordRules = []keywordRule{
	// shader / materials
	{"material", "shader", "shader"},
	{"shader", "shader", "shader"},
	{"node", "shader", "shader"},
	{"pbr", "shader", "shader"},
	{"bsdf", "shader", "shader"},
	{"texture", "shader", "shader"},
	{"uv", "shader", "shader"},
	{"transparent", "shader", "shader"},
	{"glass", "shader", "shader"},
	{"metal", "shader", "shader"},
	{"glow", "shader", "shader"},
	{"emission", "shader", "shader"},
	{"water", "shader", "shader"},
	{"ice", "shader", "shader"},
	// toon
	{"toon", "toon", "toon"},
	{"cartoon", "toon", "toon"},
	{"anime", "toon", "toon"},
	{"npr", "toon", "toon"},
	{"cel shad", "toon", "toon"},
	{"outline", "toon", "toon"},
	// animation
	{"animat", "animation", "animation"},
	{"keyframe", "animation", "animation"},
	{"driver", "animation", "animation"},
	{"scroll", "animation", "animation"},
	// scene tweaks
	{"light", "modify", "scene"},
	{"camera", "modify", "scene"},
	{"modifier", "modify", "scene"},
	{"collection", "modify", "scene"},
	{"world", "modify", "scene"},
	{"environment", "modify", "scene"},
	{"hdri", "modify", "scene"},
	// create
	{"create", "create", "scene"},
	{"add", "create", "scene"},
	{"make", "create", "scene"},
	{"build", "create", "scene"},
	{"generate", "create", "scene"},
	// delete
	{"delete", "delete", "scene"},
	{"remove", "delete", "scene"},
	{"clear", "delete", "scene"},
	// query
	{"list", "query", "general"},
	{"show", "query", "general"},
	{"info", "query", "general"},
	{"inspect", "query", "general"},
	{"status", "query", "general"},
	{"what is", "query", "general"},
	// render
	{"render", "render", "render"},
	{"output", "render", "render"},
	// search
	{"search", "search", "general"},
	{"look up", "search", "general"},
	{"reference", "search", "general"},
	{"tutorial", "search", "general"},
}

// meshyMarkers are checked before the keyword table so "generate a 3d
// model with meshy" does not get captured by the generic create rules.
var meshyMarkers = []string{
	"meshy", "text to 3d", "text-to-3d", "image to 3d", "image-to-3d", "ai model",
}

var complexKeywords = []string{
	"scene", "complete", "entire", "whole", "all ", "batch", "several", "multiple",
	"procedural", "complex", "advanced",
	"from scratch", "recreate",
	"like this", "similar to", "imitate",
	"and then", "then ", "after that", "also ", "as well",
}

// RouteMessage classifies a user message into an intent, a domain and a
// complexity estimate. Deterministic and side-effect free.
func RouteMessage(message string) Route {
	msg := strings.ToLower(message)

	intent, domain := "general", "general"
	matched := false
	for _, marker := range meshyMarkers {
		if strings.Contains(msg, marker) {
			intent, domain = "generate_3d", "meshy"
			matched = true
			break
		}
	}
	if !matched {
		for _, rule := range keywordRules {
			if strings.Contains(msg, rule.keyword) {
				intent, domain = rule.intent, rule.domain
				break
			}
		}
	}

	score := 0
	for _, kw := range complexKeywords {
		if strings.Contains(msg, kw) {
			score++
		}
	}
	complexity := "simple"
	if score >= 2 || len(message) > 150 {
		complexity = "complex"
	}

	return Route{Intent: intent, Domain: domain, Complexity: complexity}
}
