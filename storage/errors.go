package storage

import "github.com/touchhouse/touchhouse"

func corruptGranuleErr(reason string) error {
	return touchhouse.NewError(touchhouse.KindCorruptGranule, reason)
}

func corruptPartErr(reason string) error {
	return touchhouse.NewError(touchhouse.KindCorruptPart, reason)
}

func ioErr(reason string, cause error) error {
	return touchhouse.WrapError(touchhouse.KindIoError, reason, cause)
}
