package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"switchboard/internal/conversation"
	"switchboard/internal/plugin"
)

func (s *Server) authorize(c *gin.Context) {
	req, err := s.opts.OAuth.InitiateAuthorization(c.Request.Context(),
		c.Param("pluginID"), c.Param("orgID"), userID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) revoke(c *gin.Context) {
	if err := s.opts.OAuth.RevokeOAuth(c.Request.Context(), c.Param("orgID"), c.Param("pluginID")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) authStatus(c *gin.Context) {
	resp, err := s.opts.AuthStatus.Status(c.Request.Context(), c.Param("orgID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// publicInstance strips token material before an instance leaves the process.
func publicInstance(inst *plugin.Instance) *plugin.Instance {
	out := inst.Clone()
	if out.AuthState != nil {
		out.AuthState.Credentials = nil
	}
	return out
}

func (s *Server) listPlugins(c *gin.Context) {
	instances, err := s.opts.Registry.List(c.Request.Context(), c.Param("orgID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	out := make([]*plugin.Instance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, publicInstance(inst))
	}
	c.JSON(http.StatusOK, gin.H{"plugins": out})
}

func (s *Server) getPlugin(c *gin.Context) {
	inst, err := s.opts.Registry.Get(c.Request.Context(), c.Param("orgID"), c.Param("pluginID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, publicInstance(inst))
}

func (s *Server) lifecycle(c *gin.Context, op func(ctx *gin.Context, orgID, pluginID string) (*plugin.Instance, error)) {
	inst, err := op(c, c.Param("orgID"), c.Param("pluginID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, publicInstance(inst))
}

func (s *Server) startPlugin(c *gin.Context) {
	s.lifecycle(c, func(ctx *gin.Context, orgID, pluginID string) (*plugin.Instance, error) {
		return s.opts.Runtime.Start(ctx.Request.Context(), orgID, pluginID)
	})
}

func (s *Server) stopPlugin(c *gin.Context) {
	s.lifecycle(c, func(ctx *gin.Context, orgID, pluginID string) (*plugin.Instance, error) {
		return s.opts.Runtime.Stop(ctx.Request.Context(), orgID, pluginID)
	})
}

func (s *Server) restartPlugin(c *gin.Context) {
	s.lifecycle(c, func(ctx *gin.Context, orgID, pluginID string) (*plugin.Instance, error) {
		return s.opts.Runtime.Restart(ctx.Request.Context(), orgID, pluginID)
	})
}

func (s *Server) listTools(c *gin.Context) {
	tools, err := s.opts.Runtime.ListTools(c.Request.Context(), c.Param("orgID"), c.Param("pluginID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

type callToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) callTool(c *gin.Context) {
	var req callToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.opts.Runtime.CallTool(c.Request.Context(),
		c.Param("orgID"), c.Param("pluginID"), c.Param("tool"), req.Arguments)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type createConversationRequest struct {
	OrganizationID string   `json:"organizationId" binding:"required"`
	AgentID        string   `json:"agentId"`
	ChannelID      string   `json:"channelId"`
	CustomerID     string   `json:"customerId"`
	EnabledTools   []string `json:"enabledTools"`
}

func (s *Server) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "organizationId is required")
		return
	}
	conv, err := s.opts.Conversations.CreateConversation(c.Request.Context(), &conversation.Conversation{
		OrganizationID: req.OrganizationID,
		AgentID:        req.AgentID,
		ChannelID:      req.ChannelID,
		CustomerID:     req.CustomerID,
		EnabledTools:   req.EnabledTools,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.opts.Conversations.GetConversation(c.Request.Context(), c.Param("conversationID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c *gin.Context) {
	msgs, err := s.opts.Conversations.ListMessages(c.Request.Context(), c.Param("conversationID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type addMessageRequest struct {
	Type     conversation.MessageType `json:"type" binding:"required"`
	Content  string                   `json:"content"`
	Metadata map[string]any           `json:"metadata"`
}

func (s *Server) addMessage(c *gin.Context) {
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "type is required")
		return
	}
	msg, created, err := s.opts.Conversations.AddMessage(c.Request.Context(), c.Param("conversationID"), conversation.MessageInput{
		Type:     req.Type,
		Content:  req.Content,
		Metadata: req.Metadata,
		AuthorID: userID(c),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"message": msg, "created": created})
}

type assignRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) assignConversation(c *gin.Context) {
	var req assignRequest
	_ = c.ShouldBindJSON(&req)
	if req.UserID == "" {
		req.UserID = userID(c)
	}
	s.respondConversation(c)(s.opts.Conversations.AssignToUser(c.Request.Context(), c.Param("conversationID"), req.UserID))
}

type releaseRequest struct {
	Mode conversation.ReleaseMode `json:"mode"`
}

func (s *Server) releaseConversation(c *gin.Context) {
	var req releaseRequest
	_ = c.ShouldBindJSON(&req)
	if req.Mode == "" {
		req.Mode = conversation.ReleaseToAI
	}
	s.respondConversation(c)(s.opts.Conversations.ReleaseFromUser(c.Request.Context(), c.Param("conversationID"), req.Mode))
}

func (s *Server) escalateConversation(c *gin.Context) {
	s.respondConversation(c)(s.opts.Conversations.EscalateToHuman(c.Request.Context(), c.Param("conversationID")))
}

func (s *Server) resolveConversation(c *gin.Context) {
	s.respondConversation(c)(s.opts.Conversations.ResolveConversation(c.Request.Context(), c.Param("conversationID")))
}

func (s *Server) closeConversation(c *gin.Context) {
	s.respondConversation(c)(s.opts.Conversations.CloseConversation(c.Request.Context(), c.Param("conversationID")))
}

func (s *Server) respondConversation(c *gin.Context) func(*conversation.Conversation, error) {
	return func(conv *conversation.Conversation, err error) {
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

func (s *Server) respondMessage(c *gin.Context) func(*conversation.Message, error) {
	return func(msg *conversation.Message, err error) {
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, msg)
	}
}

func (s *Server) approveMessage(c *gin.Context) {
	s.respondMessage(c)(s.opts.Conversations.ApproveMessage(c.Request.Context(), c.Param("messageID"), userID(c)))
}

func (s *Server) rejectMessage(c *gin.Context) {
	s.respondMessage(c)(s.opts.Conversations.RejectMessage(c.Request.Context(), c.Param("messageID"), userID(c)))
}

type editRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) editMessage(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "content is required")
		return
	}
	s.respondMessage(c)(s.opts.Conversations.EditMessage(c.Request.Context(), c.Param("messageID"), userID(c), req.Content))
}
