package domain

import "github.com/mohae/deepcopy"

// CopyVariables returns a deep copy of a variable map. Maps, slices, pointers
// and the exported fields of structs are copied recursively.
func CopyVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	return deepcopy.Copy(vars).(map[string]any)
}
