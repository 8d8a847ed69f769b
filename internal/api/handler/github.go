package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/agent_review_server/internal/pkg/github"
	"github.com/qs3c/agent_review_server/internal/pkg/response"
)

// GithubHandler GitHub 仓库浏览代理，供前端选择仓库
type GithubHandler struct {
	client *github.Client
}

func NewGithubHandler(client *github.Client) *GithubHandler {
	return &GithubHandler{
		client: client,
	}
}

// ListRepos 列出当前 token 用户的仓库
// GET /api/v1/github/repos?access_token=xxx&page=1&per_page=30
func (h *GithubHandler) ListRepos(c *gin.Context) {
	token := c.Query("access_token")
	if token == "" {
		response.ParamError(c, "缺少 access_token")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "30"))

	repos, err := h.client.ListUserRepos(c.Request.Context(), token, page, perPage)
	if err != nil {
		if apiErr, ok := err.(*github.APIError); ok && apiErr.StatusCode == 401 {
			response.AuthError(c, "GitHub token 无效")
			return
		}
		response.ServerError(c, "获取仓库列表失败")
		return
	}

	response.Success(c, repos)
}
