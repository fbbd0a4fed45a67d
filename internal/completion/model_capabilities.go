package completion

// modelsWithoutImageSupport lists models that cannot accept image_url content
// parts, grounded on the teacher's internal/proxy/model_capabilities.go
// modelsWithoutToolSupport table (spec.md §4.9 supplemented
// model_supports_images capability, consumed by to_chat_messages'
// include_images argument in spec.md §4.5 step B.1).
var modelsWithoutImageSupport = map[string]bool{
	"dolphin-mistral-eternis": true,
	"deep-research":           true,
}

// SupportsImages returns whether a model accepts image content parts.
// Default: true for all models except those explicitly listed above.
func SupportsImages(modelID string) bool {
	return !modelsWithoutImageSupport[modelID]
}
