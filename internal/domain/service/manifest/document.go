package manifest

import (
	"encoding/json"
	"fmt"

	"applet-tester/internal/domain/model"
)

// DocumentParams are the run specific parts of an applet document
type DocumentParams struct {
	Name           string
	Code           string
	ExecDepends    []model.ExecDepend
	BundledDepends []model.BundledDepend
}

// AppletDocument renders the manifest as an applet creation document. Unknown
// manifest fields are passed through, the entry point file is replaced by its
// code and the execution dependencies are overridden.
func (s *Service) AppletDocument(m *model.Manifest, params DocumentParams) (map[string]interface{}, error) {
	doc, err := deepCopy(m.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to copy manifest: %w", err)
	}
	delete(doc, "version")
	doc["name"] = params.Name
	if _, ok := doc["dxapi"]; !ok {
		doc["dxapi"] = DefaultAPIVersion
	}

	runSpec, _ := doc["runSpec"].(map[string]interface{})
	if runSpec == nil {
		runSpec = make(map[string]interface{})
	}
	delete(runSpec, "file")
	runSpec["code"] = params.Code

	deps, err := toGeneric(params.ExecDepends)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execDepends: %w", err)
	}
	runSpec["execDepends"] = deps

	if len(params.BundledDepends) > 0 {
		existing, _ := runSpec["bundledDepends"].([]interface{})
		bundled, err := toGeneric(params.BundledDepends)
		if err != nil {
			return nil, fmt.Errorf("failed to encode bundledDepends: %w", err)
		}
		runSpec["bundledDepends"] = append(existing, bundled.([]interface{})...)
	}
	doc["runSpec"] = runSpec
	return doc, nil
}

func deepCopy(in map[string]interface{}) (map[string]interface{}, error) {
	if in == nil {
		return make(map[string]interface{}), nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return []interface{}{}, nil
	}
	return out, nil
}
