package yun

import "time"

// Shadow operations. Get, Update and Delete claim transactional handle,
// released after accepted, rejected or timeout message is delivered.

func (self *Client) ShadowInit(thing string) error {
	if err := checkParam(famShadowInit.name, thing, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	// persistent subscribe flag, always on
	return self.call(&famShadowInit, thing, "1")
}

func (self *Client) ShadowRegisterDelta(thing string, h Handler) error {
	if err := checkParam(famShadowRegisterDelta.name, thing, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.callSlot(&famShadowRegisterDelta, false, h, func(handle string) []string {
		return []string{thing, handle}
	})
}

func (self *Client) ShadowUnregisterDelta(thing string) error {
	if err := checkParam(famShadowUnregisterDelta.name, thing, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.callRelease(&famShadowUnregisterDelta, thing)
}

func (self *Client) ShadowGet(thing string, h Handler, timeout time.Duration) error {
	if err := checkParam(famShadowGet.name, thing, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.callSlot(&famShadowGet, true, h, func(handle string) []string {
		return []string{thing, handle, secondsParam(timeout)}
	})
}

func (self *Client) ShadowUpdate(thing string, payload string, h Handler, timeout time.Duration) error {
	const op = "shadow-update"
	if err := checkParam(op, thing, true); err != nil {
		return err
	}
	if err := checkParam(op, payload, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.callSlot(&famShadowUpdate, true, h, func(handle string) []string {
		return []string{thing, payload, handle, secondsParam(timeout)}
	})
}

func (self *Client) ShadowDelete(thing string, h Handler, timeout time.Duration) error {
	if err := checkParam(famShadowDelete.name, thing, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.callSlot(&famShadowDelete, true, h, func(handle string) []string {
		return []string{thing, handle, secondsParam(timeout)}
	})
}
