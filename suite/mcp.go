package suite

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/kit"
)

// RegisterMCP registers the visreg tools on an MCP server.
func (s *Suite) RegisterMCP(srv *mcp.Server, logger *slog.Logger) {
	ep := s.endpoints(logger)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "visreg_capture",
		Description: "Capture a screenshot of a URL (optionally one element) and archive it.",
		InputSchema: inputSchema(captureProps(), []string{"url"}),
	}, ep.capture, kit.DecodeArgs[artifact.CaptureRequest])

	props := captureProps()
	props["viewports"] = viewportsProp
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "visreg_responsive",
		Description: "Capture a URL once per viewport. Results follow viewport order.",
		InputSchema: inputSchema(props, []string{"url", "viewports"}),
	}, ep.responsive, kit.DecodeArgs[ResponsiveRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "visreg_compare",
		Description: "Compare archived screenshots: one baseline against one or more comparisons.",
		InputSchema: inputSchema(map[string]any{
			"baseline_id":    map[string]any{"type": "string"},
			"comparison_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"options":        diffOptionsProp,
		}, []string{"baseline_id", "comparison_ids"}),
	}, ep.compare, kit.DecodeArgs[CompareRequest])

	props = captureProps()
	props["viewports"] = viewportsProp
	props["diff_options"] = diffOptionsProp
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "visreg_check",
		Description: "Capture a named page and compare it with its approved baseline. The first capture becomes the baseline (status pending).",
		InputSchema: inputSchema(props, []string{"url", "name"}),
	}, ep.check, kit.DecodeArgs[CheckArgs])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "visreg_approve",
		Description: "Promote an archived screenshot to baseline for its name and viewport.",
		InputSchema: inputSchema(map[string]any{
			"screenshot_id": map[string]any{"type": "string"},
			"name":          map[string]any{"type": "string", "description": "Optional guard: must match the screenshot name"},
		}, []string{"screenshot_id"}),
	}, ep.approve, kit.DecodeArgs[ApproveRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "visreg_get_diff",
		Description: "Load an archived diff report by id.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string"},
		}, []string{"id"}),
	}, ep.diff, kit.DecodeArgs[LookupRequest])
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var viewportProp = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"width":               map[string]any{"type": "integer"},
		"height":              map[string]any{"type": "integer"},
		"device_scale_factor": map[string]any{"type": "number"},
		"is_mobile":           map[string]any{"type": "boolean"},
	},
}

var viewportsProp = map[string]any{"type": "array", "items": viewportProp}

var diffOptionsProp = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"threshold":           map[string]any{"type": "number", "description": "Max percentage of changed pixels that passes"},
		"pixel_threshold":     map[string]any{"type": "integer"},
		"ignore_antialiasing": map[string]any{"type": "boolean"},
		"ignore_colors":       map[string]any{"type": "boolean"},
		"diff_image":          map[string]any{"type": "boolean"},
	},
}

func captureProps() map[string]any {
	return map[string]any{
		"url":            map[string]any{"type": "string", "description": "http(s) or file URL"},
		"name":           map[string]any{"type": "string"},
		"selector":       map[string]any{"type": "string", "description": "CSS selector of the element to capture"},
		"viewport":       viewportProp,
		"browser_engine": map[string]any{"type": "string", "enum": []string{"chromium", "chrome", "firefox", "webkit"}},
		"tags":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"options": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"full_page":       map[string]any{"type": "boolean"},
				"wait_for_fonts":  map[string]any{"type": "boolean"},
				"wait_for_images": map[string]any{"type": "boolean"},
				"delay_ms":        map[string]any{"type": "integer"},
				"format":          map[string]any{"type": "string", "enum": []string{"png", "jpeg", "webp"}},
				"quality":         map[string]any{"type": "integer"},
			},
		},
	}
}
