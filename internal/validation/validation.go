// Package validation проверяет входные данные запросов по JSON Schema
// и возвращает список всех нарушенных полей.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mmeshcher/echobeats-checkout/internal/model"
)

// FieldError описывает нарушение в одном поле запроса.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error содержит все нарушения, найденные в запросе.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// NewError создаёт ошибку валидации для одного поля.
func NewError(field, message string) *Error {
	return &Error{Fields: []FieldError{{Field: field, Message: message}}}
}

const checkoutSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["productId", "productName", "amount", "currency"],
  "properties": {
    "productId": { "type": "string", "minLength": 1, "maxLength": 100 },
    "productName": { "type": "string", "minLength": 1, "maxLength": 200 },
    "amount": { "type": "number", "exclusiveMinimum": 0, "maximum": 999999 },
    "currency": { "type": "string", "pattern": "^[a-z]{3}$" },
    "customerEmail": { "type": "string", "format": "email" }
  }
}`

const subscriberSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["email"],
  "properties": {
    "email": { "type": "string", "minLength": 1, "format": "email" }
  }
}`

// Ошибки обязательных полей gojsonschema относит к корню документа.
const rootContext = "(root)"

var (
	checkoutSchema   = mustSchema(checkoutSchemaJSON)
	subscriberSchema = mustSchema(subscriberSchemaJSON)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return s
}

// Checkout проверяет запрос на оформление заказа. Валюта должна быть
// уже приведена к нижнему регистру и дополнена значением по умолчанию.
func Checkout(req model.CheckoutRequest) error {
	if err := validate(checkoutSchema, req); err != nil {
		return err
	}

	if model.MinorUnits(req.Amount, req.Currency) < 1 {
		return NewError("amount", "Amount is smaller than the minimal currency unit")
	}

	return nil
}

// Subscriber проверяет адрес подписчика рассылки.
func Subscriber(email string) error {
	return validate(subscriberSchema, struct {
		Email string `json:"email"`
	}{Email: email})
}

func validate(schema *gojsonschema.Schema, doc any) error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	if res.Valid() {
		return nil
	}

	fields := make([]FieldError, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		field := re.Field()
		if field == rootContext {
			if p, ok := re.Details()["property"]; ok {
				field = fmt.Sprint(p)
			}
		}
		fields = append(fields, FieldError{Field: field, Message: re.Description()})
	}

	return &Error{Fields: fields}
}
