package facebook

type accountsResponse struct {
	Data []page `json:"data"`
}

type page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

type feedParams struct {
	Message     string `url:"message"`
	Link        string `url:"link,omitempty"`
	AccessToken string `url:"access_token"`
}

type photoParams struct {
	URL         string `url:"url"`
	Caption     string `url:"caption,omitempty"`
	Published   bool   `url:"published"`
	AccessToken string `url:"access_token"`
}

type postFieldsResponse struct {
	ID    string `json:"id"`
	Likes *struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"likes"`
	Comments *struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"comments"`
	Shares *struct {
		Count int64 `json:"count"`
	} `json:"shares"`
}
