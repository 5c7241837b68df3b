package authority

import "errors"

var (
	ErrStoreRead   = errors.New("authority: read rules")
	ErrStoreSave   = errors.New("authority: save rules")
	ErrLoadRules   = errors.New("authority: load rules file")
	ErrWatch       = errors.New("authority: watch rules file")
	ErrParseCurl   = errors.New("authority: parse curl command")
	ErrCurlURL     = errors.New("authority: curl command has no url")
	ErrCurlCommand = errors.New("authority: not a curl command")
)
