package tool

import "sort"

// Groups cluster related tools so the router can send the model a
// bounded subset instead of the full registry.
var Groups = map[string][]string{
	"basic": {
		"list_objects", "create_primitive", "delete_object",
		"transform_object", "get_object_info", "get_scene_info",
	},
	"material": {
		"set_material", "set_metallic_roughness",
		"shader_create_material", "shader_delete_material",
		"shader_list_materials", "shader_assign_material",
	},
	"shader": {
		"shader_inspect_nodes", "shader_add_node", "shader_delete_node",
		"shader_set_node_input", "shader_set_node_property",
		"shader_link_nodes", "shader_unlink_nodes",
		"shader_batch_add_nodes", "shader_batch_link_nodes",
		"shader_clear_nodes", "shader_get_material_summary",
		"shader_get_node_sockets", "shader_list_available_nodes",
		"shader_create_procedural_material",
		"shader_preview_material", "shader_configure_eevee",
	},
	"toon": {
		"shader_create_toon_material", "shader_convert_to_toon",
	},
	"scene": {
		"scene_add_light", "scene_modify_light",
		"scene_add_camera", "scene_set_active_camera",
		"scene_add_modifier", "scene_set_modifier_param", "scene_remove_modifier",
		"scene_manage_collection", "scene_set_world",
		"scene_duplicate_object", "scene_parent_object", "scene_set_visibility",
		"scene_get_render_settings", "scene_set_render_settings",
		"scene_get_object_materials", "scene_list_all_materials",
	},
	"animation": {
		"anim_add_uv_scroll", "anim_add_uv_rotate",
		"anim_add_value_driver", "anim_add_keyframe", "anim_remove_driver",
	},
	"render": {"setup_render", "render_image"},
	"meshy":  {"meshy_text_to_3d", "meshy_image_to_3d"},
	"search": {"web_search", "web_fetch", "kb_search", "kb_save"},
	"file":   {"file_read", "file_write", "file_list"},
	"meta":   {"get_action_log", "analyze_scene"},
}

// intentGroups maps router intents to tool groups. The general entry is
// the bounded fallback subset sent when no category keyword matches;
// keeping it well under the full registry keeps provider payloads small.
var intentGroups = map[string][]string{
	"create":      {"basic", "material", "scene", "shader", "search"},
	"modify":      {"basic", "material", "shader", "scene", "search"},
	"delete":      {"basic", "scene"},
	"shader":      {"material", "shader", "search"},
	"toon":        {"material", "toon", "shader"},
	"animation":   {"animation", "shader", "basic"},
	"render":      {"render", "scene"},
	"generate_3d": {"meshy", "basic", "material"},
	"search":      {"search", "meta"},
	"query":       {"basic", "material", "scene", "meta"},
	"general":     {"basic", "material", "scene", "search", "meta", "file"},
}

// SubsetForIntent returns the tool-name subset for a router intent,
// falling back to the general subset for unknown intents. The result is
// sorted for deterministic prompts.
func SubsetForIntent(intent string) []string {
	groups, ok := intentGroups[intent]
	if !ok {
		groups = intentGroups["general"]
	}
	seen := make(map[string]bool)
	var names []string
	for _, g := range groups {
		for _, n := range Groups[g] {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}
