package jsonreg

// mergePatch applies an RFC 7396 JSON Merge Patch: patch is merged into
// target, returning the result. A null value in patch removes the
// corresponding key from an object target; any other patch value assigns to
// or replaces on target. Non-object patches replace target wholesale.
func mergePatch(target, patch *node) *node {
	if patch == nil {
		return target
	}
	if patch.kind != kindObject {
		return patch.clone()
	}

	var result *node
	if target != nil && target.kind == kindObject {
		result = target.clone()
	} else {
		result = newObjectNode()
	}

	for k, pv := range patch.obj {
		if pv.kind == kindNull {
			delete(result.obj, k)
			continue
		}
		result.obj[k] = mergePatch(result.obj[k], pv)
	}
	return result
}

// mergeAt applies a merge-patch at path: the subtree currently at path (or
// an absent/null subtree) is merge-patched with value, and the result is
// written back, creating intermediate objects as needed. A null value
// removes whatever is at path instead.
func mergeAt(root *node, path string, value *node) error {
	if value.kind == kindNull {
		return removeAt(root, path)
	}
	existing, err := at(root, path)
	if err != nil {
		existing = newNull()
	}
	merged := mergePatch(existing, value)
	return setAt(root, path, merged)
}

// replaceAt deletes the subtree at path (or clears the whole tree if path
// addresses the root) and then merge-patches value in.
func replaceAt(root *node, path string, value *node) error {
	if err := removeAt(root, path); err != nil {
		return err
	}
	return mergeAt(root, path, value)
}
