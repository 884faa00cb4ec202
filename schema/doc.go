// Package schema validates envelope bodies against per-type schemas.
//
// Bodies are checked in their JSON form, so field names follow the json tags
// of the message struct. A Validator plugs into the interceptor chain:
//
//	validator := schema.NewValidator()
//	err := schema.RegisterFor[PlaceOrder](validator, &schema.Schema{
//		Required: []string{"orderId", "amount"},
//		Properties: map[string]*schema.Property{
//			"orderId": {Type: "string", MinLength: schema.Int(1)},
//			"amount":  {Type: "number", Minimum: schema.Float(0.01)},
//		},
//	})
//
//	broker := messaging.NewBroker(messaging.WithInterceptors(
//		interceptors.NewValidationInterceptor(validator),
//	))
//
// Invalid envelopes fail without retry and end up in the type's DLQ.
package schema
