package db

import (
	"go.mongodb.org/mongo-driver/bson"
)

// FilterBuilder assembles a query filter from the operator subset every
// backend evaluates: equality (array membership for array fields), $ne,
// $in, $nin and $exists.
type FilterBuilder struct {
	filter bson.M
}

// Empty matches every document in a collection.
func Empty() bson.M {
	return bson.M{}
}

func NewFilter() *FilterBuilder {
	return &FilterBuilder{filter: bson.M{}}
}

// Eq matches field == value, or value being an element when field is an
// array.
func (f *FilterBuilder) Eq(field string, value interface{}) *FilterBuilder {
	f.filter[field] = value
	return f
}

func (f *FilterBuilder) Ne(field string, value interface{}) *FilterBuilder {
	return f.op(field, "$ne", value)
}

func (f *FilterBuilder) In(field string, values interface{}) *FilterBuilder {
	return f.op(field, "$in", values)
}

func (f *FilterBuilder) NotIn(field string, values interface{}) *FilterBuilder {
	return f.op(field, "$nin", values)
}

func (f *FilterBuilder) Exists(field string, exists bool) *FilterBuilder {
	return f.op(field, "$exists", exists)
}

func (f *FilterBuilder) op(field, operator string, operand interface{}) *FilterBuilder {
	f.filter[field] = bson.M{operator: operand}
	return f
}

// Build returns the filter. The builder must not be reused afterwards.
func (f *FilterBuilder) Build() bson.M {
	return f.filter
}
