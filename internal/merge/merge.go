package merge

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/utils"
)

// MergeDataAndErrors places errs into data.
//
// data is the value found under the response key of a delegated call and errs are the
// errors returned with it, located relative to the response key. Each error is either
// placed into the tree where the data would have gone, or returned as unpathed.
// path is the caller path the inner response key maps to. depth is the index inside
// error paths that addresses a child of data, the top level call uses 1.
//
// data is modified in place, callers must own it exclusively.
func MergeDataAndErrors(data interface{}, errs gqlerror.List, path ast.Path, onLocatedError OnLocatedError, depth int) (interface{}, gqlerror.List) {
	if data == nil {
		switch len(errs) {
		case 0:
			return nil, nil
		case 1:
			return Relocate(errs[0], path, onLocatedError), nil
		default:
			relocated := make(gqlerror.List, 0, len(errs))
			for _, err := range errs {
				relocated = append(relocated, Relocate(err, path, onLocatedError))
			}
			return Combine(relocated, nodePath(path, errs[0], depth)), nil
		}
	}

	if len(errs) == 0 {
		return data, nil
	}

	var unpathed gqlerror.List
	var segments []ast.PathElement
	errorMap := make(map[ast.PathElement]gqlerror.List)
	for _, err := range errs {
		if len(err.Path) <= depth {
			unpathed = append(unpathed, Relocate(err, path, onLocatedError))
			continue
		}
		segment := err.Path[depth]
		if _, ok := errorMap[segment]; !ok {
			segments = append(segments, segment)
		}
		errorMap[segment] = append(errorMap[segment], err)
	}

	for _, segment := range segments {
		segmentErrs := errorMap[segment]

		switch segment := segment.(type) {
		case ast.PathIndex:
			list, ok := data.([]interface{})
			if !ok || int(segment) < 0 || len(list) <= int(segment) {
				unpathed = append(unpathed, relocateAll(segmentErrs, path, onLocatedError)...)
				continue
			}
			newData, newErrs := MergeDataAndErrors(list[segment], segmentErrs, path, onLocatedError, depth+1)
			list[segment] = newData
			unpathed = append(unpathed, newErrs...)

		case ast.PathName:
			obj, ok := data.(map[string]interface{})
			if !ok {
				unpathed = append(unpathed, relocateAll(segmentErrs, path, onLocatedError)...)
				continue
			}
			child, ok := obj[string(segment)]
			if !ok {
				unpathed = append(unpathed, relocateAll(segmentErrs, path, onLocatedError)...)
				continue
			}
			newData, newErrs := MergeDataAndErrors(child, segmentErrs, path, onLocatedError, depth+1)
			obj[string(segment)] = newData
			unpathed = append(unpathed, newErrs...)
		}
	}

	return data, unpathed
}

func relocateAll(errs gqlerror.List, path ast.Path, onLocatedError OnLocatedError) gqlerror.List {
	result := make(gqlerror.List, 0, len(errs))
	for _, err := range errs {
		result = append(result, Relocate(err, path, onLocatedError))
	}
	return result
}

// nodePath is the caller side location of the node at depth.
func nodePath(path ast.Path, err *gqlerror.Error, depth int) ast.Path {
	if path == nil || len(err.Path) < depth || depth < 1 {
		return path
	}
	return utils.AppendPath(path, err.Path[1:depth]...)
}
