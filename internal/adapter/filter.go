package adapter

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/voiladb/voila/query"
)

// whereToFilter converts a predicate tree into a mongo filter document.
func whereToFilter(w query.Where) bson.M {
	if len(w) == 0 {
		return bson.M{}
	}

	out := bson.M{}
	for key, val := range w {
		switch key {
		case "AND":
			if nested, ok := val.([]query.Where); ok {
				list := make([]bson.M, 0, len(nested))
				for _, c := range nested {
					list = append(list, whereToFilter(c))
				}
				out["$and"] = list
			}
		case "OR":
			if nested, ok := val.([]query.Where); ok {
				list := make([]bson.M, 0, len(nested))
				for _, c := range nested {
					list = append(list, whereToFilter(c))
				}
				out["$or"] = list
			}
		default:
			out[key] = val
		}
	}
	return out
}
