// internal/action/action.go
package action

import (
	"github.com/xkilldash9x/autowait/internal/condition"
	"github.com/xkilldash9x/autowait/internal/driver"
)

func Click() driver.Action       { return driver.Action{Kind: driver.ActionClick} }
func DoubleClick() driver.Action { return driver.Action{Kind: driver.ActionDoubleClick} }
func Hover() driver.Action       { return driver.Action{Kind: driver.ActionHover} }
func Check() driver.Action       { return driver.Action{Kind: driver.ActionCheck} }
func Uncheck() driver.Action     { return driver.Action{Kind: driver.ActionUncheck} }

// Fill replaces the element's value with text.
func Fill(text string) driver.Action { return driver.Action{Kind: driver.ActionFill, Value: text} }

// Press sends one key, e.g. "Enter" or "a".
func Press(key string) driver.Action { return driver.Action{Kind: driver.ActionPress, Value: key} }

// SelectOption picks the option with the given value.
func SelectOption(value string) driver.Action {
	return driver.Action{Kind: driver.ActionSelect, Value: value}
}

// DefaultActionability returns the checks an element must pass before kind
// is performed on it. Pointer actions need a stable box that receives events;
// text entry needs an editable field.
func DefaultActionability(kind driver.ActionKind) condition.Condition {
	switch kind {
	case driver.ActionClick, driver.ActionDoubleClick, driver.ActionCheck, driver.ActionUncheck:
		return condition.All(
			condition.Attached(),
			condition.Visible(),
			condition.Stable(),
			condition.Enabled(),
			condition.ReceivesPointerEvents(),
		)
	case driver.ActionHover:
		return condition.All(
			condition.Attached(),
			condition.Visible(),
			condition.Stable(),
			condition.ReceivesPointerEvents(),
		)
	case driver.ActionFill:
		return condition.All(
			condition.Attached(),
			condition.Visible(),
			condition.Enabled(),
			condition.Editable(),
		)
	case driver.ActionSelect:
		return condition.All(
			condition.Attached(),
			condition.Visible(),
			condition.Enabled(),
		)
	default:
		return condition.All(condition.Attached())
	}
}
