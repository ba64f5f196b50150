package builtin

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/safing/extender/plugin/host"
	"github.com/safing/extender/plugin/shared"
)

// SendToRepeater opens a repeater tab for each selected request.
type SendToRepeater struct {
	shared.Base
}

var _ shared.MenuHandler = &SendToRepeater{}

func newSendToRepeater() (*SendToRepeater, error) {
	return &SendToRepeater{}, nil
}

// Caption implements shared.MenuHandler.
func (str *SendToRepeater) Caption() string {
	return "Send to Repeater"
}

// MenuItemClicked implements shared.MenuHandler.
func (str *SendToRepeater) MenuItemClicked(caption string, msgs []*shared.Message) error {
	var errs *multierror.Error
	for i, msg := range msgs {
		_, err := str.Host.Invoke(
			host.OpSendToRepeater,
			msg.Service.Host,
			msg.Service.Port,
			msg.Service.UseHTTPS(),
			msg.Request,
			fmt.Sprintf("%s #%d", caption, i+1),
		)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
