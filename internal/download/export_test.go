package download

var (
	Progress          = progress
	KeepAuthorization = keepAuthorization
)
