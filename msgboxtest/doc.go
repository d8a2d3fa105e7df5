// Package msgboxtest verifies msgbox Consumers with Given/When/Then
// scenarios. A Scenario feeds prior events to a fresh Consumer, applies new
// events, and then checks either an expected failure or an assertion
// callback once the test finishes:
//
//	func TestShipping(t *testing.T) {
//		msgboxtest.NewScenario(t, newShippingProjector).
//			Given(OrderPlaced{ID: "1"}).
//			When(OrderShipped{ID: "1"}).
//			Then(func(t testing.TB, p *ShippingProjector) {
//				assert.True(t, p.Shipped("1"))
//			})
//	}
package msgboxtest
